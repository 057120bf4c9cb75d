package ddbsql

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"

	"github.com/ddbsql/ddbsql/internal/executor"
	"github.com/ddbsql/ddbsql/internal/remote"
)

// Conn is a single borrowed connection (one pooled *remote.Client) plus the
// executor facade built around it.
type Conn struct {
	connector *connector
	client    *remote.Client
	executor  *executor.Executor
	closed    bool
	tx        *Transaction
}

var (
	_ driver.Conn               = (*Conn)(nil)
	_ driver.ConnPrepareContext = (*Conn)(nil)
	_ driver.QueryerContext     = (*Conn)(nil)
	_ driver.ExecerContext      = (*Conn)(nil)
	_ driver.ConnBeginTx        = (*Conn)(nil)
)

// Prepare satisfies driver.Conn for callers that bypass PrepareContext.
func (c *Conn) Prepare(query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

func (c *Conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	return &Stmt{conn: c, query: query}, nil
}

// Close returns the underlying remote client to the connector's pool.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.connector.pool.Return(context.Background(), c.client)
	return nil
}

// Begin satisfies driver.Conn's legacy transaction entry point.
func (c *Conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// BeginTx opens a transaction accumulator: DML executed on this connection
// while a transaction is open is queued rather than sent, and committed
// atomically via the remote service's native transactional API (spec.md
// §4.10's "route the operation to a transaction accumulator").
func (c *Conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if opts.ReadOnly {
		return nil, fmt.Errorf("ddbsql: read-only transactions are not supported")
	}
	if c.tx != nil {
		return nil, fmt.Errorf("ddbsql: a transaction is already open on this connection")
	}
	c.tx = &Transaction{conn: c}
	return c.tx, nil
}

// QueryContext executes a SELECT (or information_schema interception) and
// returns a forward-only Rows.
func (c *Conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	sqlText := substituteParams(query, args)
	ctx, cancel := withAPICallTimeout(ctx, c.connector)
	defer cancel()

	res, err := c.executor.ExecuteQuery(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	return newRows(ctx, res), nil
}

// QueryUpdatable executes query as an updatable-concurrency SELECT (spec.md
// §4.10 step 7): when eligible, the returned *Rows carries an UpdatableHandle
// reachable via Rows.Updatable for single-table row-edit write-back.
// database/sql's driver.Rows interface has no hook for this, so callers
// reach it through sql.Conn.Raw, the same way other drivers expose
// capabilities outside the standard interface:
//
//	var rows *ddbsql.Rows
//	conn.Raw(func(dc interface{}) error {
//	    var err error
//	    rows, err = dc.(*ddbsql.Conn).QueryUpdatable(ctx, query)
//	    return err
//	})
func (c *Conn) QueryUpdatable(ctx context.Context, query string) (*Rows, error) {
	ctx, cancel := withAPICallTimeout(ctx, c.connector)
	defer cancel()

	res, err := c.executor.ExecuteUpdatableQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	return newRows(ctx, res), nil
}

// ExecContext executes DML. While a transaction is open, the statement is
// queued on the accumulator instead of sent immediately.
func (c *Conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	sqlText := substituteParams(query, args)

	if c.tx != nil {
		c.tx.statements = append(c.tx.statements, sqlText)
		return driver.RowsAffected(1), nil // optimistic; finalized by commit's all-or-nothing outcome
	}

	ctx, cancel := withAPICallTimeout(ctx, c.connector)
	defer cancel()
	n, err := c.executor.ExecuteUpdate(ctx, sqlText)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(n), nil
}

func withAPICallTimeout(ctx context.Context, conn *connector) (context.Context, context.CancelFunc) {
	if conn.cfg.APICallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, conn.cfg.APICallTimeout)
}

// substituteParams implements the "thin collaborator" PreparedStatement
// substitution spec.md §1 calls out as delegating to the query path: '?'
// placeholders are replaced in order with a quote-escaped literal. This is
// deliberately not full bind-parameter support (outside this spec's scope);
// it covers the common case of scalar literals.
func substituteParams(query string, args []driver.NamedValue) string {
	if len(args) == 0 {
		return query
	}
	var b strings.Builder
	argIdx := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' && argIdx < len(args) {
			b.WriteString(literalFor(args[argIdx].Value))
			argIdx++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func literalFor(v driver.Value) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case []byte:
		return "'" + strings.ReplaceAll(string(val), "'", "''") + "'"
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return "'" + strings.ReplaceAll(fmt.Sprintf("%v", val), "'", "''") + "'"
	}
}
