package ddbsql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/ddbsql/ddbsql/internal/executor"
	"github.com/ddbsql/ddbsql/internal/remote"
)

// Rows adapts either a live resultstream.Stream or a synthetic
// information_schema result set to driver.Rows. A schemaless store has no
// fixed column list, so for a live stream the column set is derived from
// the first row returned (an attribute named like the stream's TableKeyHint
// first, then the rest alphabetically; the executor passes the table name as
// that hint and does not look up the declared key columns, so key columns are
// sorted with the rest unless one carries the table's name); later rows missing one of those attributes surface NULL
// for it, and extra attributes on later rows are not exposed — the same
// "shape follows the first row" compromise any SELECT * over a schemaless
// store has to make.
type Rows struct {
	ctx context.Context
	qr  *executor.QueryResult
	cols []string

	synthIdx int

	streamPrimed bool
	pendingItem  remote.Item
	pendingValid bool
}

func newRows(ctx context.Context, qr *executor.QueryResult) *Rows {
	r := &Rows{ctx: ctx, qr: qr}
	if qr.Stream == nil {
		r.cols = qr.Columns
	}
	return r
}

func (r *Rows) Columns() []string {
	if r.qr.Stream == nil {
		return r.cols
	}
	if r.cols == nil {
		r.primeStream()
	}
	return r.cols
}

func (r *Rows) primeStream() {
	if r.streamPrimed {
		return
	}
	r.streamPrimed = true

	err := r.qr.Stream.Advance(r.ctx)
	if err != nil {
		r.cols = []string{}
		return
	}
	item, ok := r.qr.Stream.Current()
	if !ok {
		r.cols = []string{}
		return
	}
	r.pendingItem = item
	r.pendingValid = true
	r.cols = orderColumns(item, r.qr.Stream.TableKeyHint())
}

func (r *Rows) Next(dest []driver.Value) error {
	if r.qr.Stream == nil {
		return r.nextSynthetic(dest)
	}

	if !r.streamPrimed {
		r.primeStream()
	}

	var item remote.Item
	if r.pendingValid {
		item = r.pendingItem
		r.pendingValid = false
	} else {
		err := r.qr.Stream.Advance(r.ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		it, ok := r.qr.Stream.Current()
		if !ok {
			return io.EOF
		}
		item = it
	}

	for i, col := range r.cols {
		val, ok := item[col]
		if !ok {
			dest[i] = nil
			continue
		}
		dv, err := toDriverValue(val)
		if err != nil {
			return err
		}
		dest[i] = dv
	}
	return nil
}

func (r *Rows) nextSynthetic(dest []driver.Value) error {
	if r.synthIdx >= len(r.qr.Synthetic) {
		return io.EOF
	}
	row := r.qr.Synthetic[r.synthIdx]
	r.synthIdx++
	for i, v := range row {
		dest[i] = v
	}
	return nil
}

func (r *Rows) Close() error { return nil }

// Updatable returns this result set's write-back handle, present only when
// the query was run via Conn.QueryUpdatable and was eligible for it (spec.md
// §4.10 step 7).
func (r *Rows) Updatable() (*executor.UpdatableHandle, bool) {
	if r.qr.Updatable == nil {
		return nil, false
	}
	return r.qr.Updatable, true
}

// orderColumns puts the attribute named keyHint first (if present on this
// item); the remainder is sorted for determinism across rows with the same
// attribute set.
func orderColumns(item remote.Item, keyHint string) []string {
	cols := make([]string, 0, len(item))
	_, hasKey := item[keyHint]
	for name := range item {
		if keyHint != "" && name == keyHint {
			continue
		}
		cols = append(cols, name)
	}
	sort.Strings(cols)
	if keyHint != "" && hasKey {
		cols = append([]string{keyHint}, cols...)
	}
	return cols
}

// toDriverValue converts a tagged remote.Value into a database/sql-
// compatible driver.Value. Complex container types (L/M/SS/NS) are
// flattened to their JSON representation — database/sql has no native
// nested-value type, and JSON is the least surprising textual form for a
// caller doing string scanning.
func toDriverValue(v remote.Value) (driver.Value, error) {
	switch v.Tag {
	case remote.TagNull:
		return nil, nil
	case remote.TagString:
		return v.S, nil
	case remote.TagBool:
		return v.Bool, nil
	case remote.TagBinary:
		return v.B, nil
	case remote.TagNumber:
		if n, err := strconv.ParseInt(v.N, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(v.N, 64)
		if err != nil {
			return nil, fmt.Errorf("ddbsql: decoding numeric attribute %q: %w", v.N, err)
		}
		return f, nil
	case remote.TagStringSet:
		b, err := json.Marshal(v.SS)
		return string(b), err
	case remote.TagNumberSet:
		b, err := json.Marshal(v.NS)
		return string(b), err
	case remote.TagList, remote.TagMap:
		b, err := json.Marshal(remoteValueToJSON(v))
		return string(b), err
	default:
		return nil, fmt.Errorf("ddbsql: unsupported attribute tag %q", v.Tag)
	}
}

func remoteValueToJSON(v remote.Value) interface{} {
	switch v.Tag {
	case remote.TagNull:
		return nil
	case remote.TagString:
		return v.S
	case remote.TagBool:
		return v.Bool
	case remote.TagBinary:
		return v.B
	case remote.TagNumber:
		return v.N
	case remote.TagStringSet:
		return v.SS
	case remote.TagNumberSet:
		return v.NS
	case remote.TagList:
		out := make([]interface{}, len(v.L))
		for i, e := range v.L {
			out[i] = remoteValueToJSON(e)
		}
		return out
	case remote.TagMap:
		out := make(map[string]interface{}, len(v.M))
		for k, e := range v.M {
			out[k] = remoteValueToJSON(e)
		}
		return out
	default:
		return nil
	}
}
