// Package resultstream implements the Paged Result Stream (C4): a forward
// cursor over page-by-page remote fetches that enforces LIMIT/OFFSET/
// maxRows/fetchSize semantics DynamoDB itself does not support. This is the
// most novel component relative to the teacher — 2lar-b2 never needed
// client-side OFFSET emulation — so its cursor-state shape borrows from the
// teacher's PaginatedResult/PageInfo structs
// (internal/repository/pagination.go) while the advance algorithm itself is
// built directly from spec.md §4.4/§9 (the "page-boundary-only" offset-cache
// design note (a) is implemented literally: cache entries are written at
// page boundaries, and Get always rounds down to the nearest stored
// position).
package resultstream

import (
	"context"
	"fmt"
	"io"

	"github.com/ddbsql/ddbsql/internal/offsetcache"
	"github.com/ddbsql/ddbsql/internal/remote"
)

// FetchPageFunc fetches one more page, already wrapped in the retry engine
// by the caller (the executor). limit is the effective per-page row cap.
type FetchPageFunc func(ctx context.Context, nextToken string, limit int32) (remote.PageResponse, error)

// Config bundles the construction-time parameters of spec.md §4.4.
type Config struct {
	SQL          string // original SQL, used as the offset-cache fingerprint key
	FetchSize    int
	Limit        *int
	Offset       *int
	MaxRows      int
	TableKeyHint string
	OffsetCache  *offsetcache.Cache // nil disables cache-assisted offset and checkpoint writes
}

// Stream is the single-owner, single-threaded forward cursor described by
// spec.md §3's "Result cursor". It is not safe for concurrent use.
type Stream struct {
	fetch FetchPageFunc
	cfg   Config

	buffer   []remote.Item
	bufIndex int

	rowsReturned     int
	totalRowsFetched int
	offsetRemaining  int
	effectiveLimit   int // min(limit, maxRows, fetchSize) recomputed (monotonically non-increasing) at each page fetch
	maxRowsFinal     int // maxRows after the fetchSize safety-cap substitution; never loosens

	nextToken string
	current   remote.Item
	hasCurrent bool
	terminal  bool
	err       error
}

// ResolveInitialOffset consults the offset-token cache for (sql, offset) and
// returns the residual offsetRemaining plus a resume token to use for the
// *first* ExecuteStatement call, implementing spec.md §4.4's
// cache-assisted-offset and §9 open question (a): the cache only stores
// page-boundary positions, so Get already rounds down and callers must not
// "invent" an exact-row resume point.
func ResolveInitialOffset(cache *offsetcache.Cache, sql string, offset int) (offsetRemaining int, resumeToken string) {
	if cache == nil || offset <= 0 {
		return offset, ""
	}
	entry, ok := cache.Get(sql, offset)
	if !ok || entry.Position <= 0 || entry.Token == "" {
		return offset, ""
	}
	// Never exceed offset (no under-skip): residual is offset - the
	// page-boundary position the cache actually observed.
	residual := offset - entry.Position
	if residual < 0 {
		residual = 0
	}
	return residual, entry.Token
}

// New constructs a Stream already holding the first page (spec.md §4.4
// construction contract). offsetRemaining should come from
// ResolveInitialOffset when an offset cache is in play, or cfg.Offset
// otherwise.
func New(fetch FetchPageFunc, cfg Config, initialPage remote.PageResponse, offsetRemaining int) *Stream {
	s := &Stream{
		fetch:           fetch,
		cfg:             cfg,
		buffer:          initialPage.Items,
		offsetRemaining: offsetRemaining,
		nextToken:       initialPage.NextToken,
	}
	s.totalRowsFetched = len(initialPage.Items)
	s.recomputeEffectiveLimit()
	return s
}

// recomputeEffectiveLimit implements spec.md §4.4's effective-limit formula,
// including the fetchSize safety cap substitution for maxRows==0. The
// substitution only guards an otherwise-unbounded scan: an explicit LIMIT
// already bounds the stream, so it must govern undiminished rather than be
// clobbered by a smaller fetchSize. The cap never loosens once set:
// maxRowsFinal is fixed the first time this runs.
func (s *Stream) recomputeEffectiveLimit() {
	if s.maxRowsFinal == 0 && s.cfg.MaxRows == 0 && s.cfg.FetchSize > 0 && s.cfg.Limit == nil {
		s.maxRowsFinal = s.cfg.FetchSize
	} else if s.maxRowsFinal == 0 {
		s.maxRowsFinal = s.cfg.MaxRows
	}

	remainingLimit := unbounded
	if s.cfg.Limit != nil {
		remainingLimit = *s.cfg.Limit - s.rowsReturned
	}
	remainingMaxRows := unbounded
	if s.maxRowsFinal > 0 {
		remainingMaxRows = s.maxRowsFinal - s.rowsReturned
	}
	fetchSize := s.cfg.FetchSize
	if fetchSize <= 0 {
		fetchSize = unbounded
	}

	s.effectiveLimit = minOf(remainingLimit, minOf(remainingMaxRows, fetchSize))
	if s.effectiveLimit < 0 {
		s.effectiveLimit = 0
	}
}

const unbounded = 1 << 30

func minOf(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// effectiveLimitFinal is rowsReturned's hard ceiling: limit (if set) capped
// by maxRowsFinal, independent of fetchSize pacing.
func (s *Stream) effectiveLimitFinal() int {
	ceiling := unbounded
	if s.cfg.Limit != nil {
		ceiling = *s.cfg.Limit
	}
	if s.maxRowsFinal > 0 && s.maxRowsFinal < ceiling {
		ceiling = s.maxRowsFinal
	}
	return ceiling
}

// Advance is the cursor's only mutation (spec.md §4.4). It returns io.EOF
// when the stream is terminal (mirrors the iterator convention used
// throughout the teacher's generic PaginatedResult consumers).
func (s *Stream) Advance(ctx context.Context) error {
	if s.terminal {
		return io.EOF
	}

	for {
		if s.rowsReturned >= s.effectiveLimitFinal() {
			s.terminal = true
			s.hasCurrent = false
			return io.EOF
		}

		if s.bufIndex >= len(s.buffer) {
			if s.nextToken == "" {
				s.terminal = true
				s.hasCurrent = false
				return io.EOF
			}
			if err := s.fetchNextPage(ctx); err != nil {
				s.err = err
				return fmt.Errorf("resultstream: fetching next page: %w", err)
			}
			continue
		}

		item := s.buffer[s.bufIndex]
		s.bufIndex++

		if s.offsetRemaining > 0 {
			s.offsetRemaining--
			s.maybeCacheSkippedPosition()
			continue
		}

		s.current = item
		s.hasCurrent = true
		s.rowsReturned++
		s.maybeCacheExposedPosition()
		return nil
	}
}

func (s *Stream) fetchNextPage(ctx context.Context) error {
	s.recomputeEffectiveLimit()
	page, err := s.fetch(ctx, s.nextToken, int32(s.effectiveLimit))
	if err != nil {
		return err
	}
	s.buffer = page.Items
	s.bufIndex = 0
	s.nextToken = page.NextToken
	s.totalRowsFetched += len(page.Items)

	// §9 open-question (a): cache entries are written at page boundaries
	// only, using the token that resumes right after this page, not an exact
	// offset.
	if s.cfg.OffsetCache != nil && s.cfg.OffsetCache.ShouldCache(s.totalRowsFetched) {
		s.cfg.OffsetCache.Put(s.cfg.SQL, s.totalRowsFetched, s.nextToken)
	}
	return nil
}

func (s *Stream) maybeCacheSkippedPosition() {
	// Only at the end of the buffered page does nextToken resume exactly at
	// the current position.
	if s.cfg.OffsetCache == nil || s.bufIndex < len(s.buffer) {
		return
	}
	position := s.currentPosition()
	if s.cfg.OffsetCache.ShouldCache(position) {
		s.cfg.OffsetCache.Put(s.cfg.SQL, position, s.nextToken)
	}
}

func (s *Stream) maybeCacheExposedPosition() {
	if s.cfg.OffsetCache == nil || s.bufIndex < len(s.buffer) {
		return
	}
	position := s.currentPosition()
	if s.cfg.OffsetCache.ShouldCache(position) {
		s.cfg.OffsetCache.Put(s.cfg.SQL, position, s.nextToken)
	}
}

// currentPosition implements spec.md §9 open-question (b):
// totalRowsFetched - len(buffer) + bufIndex, coherent because pages are
// appended... here the buffer is replaced per page rather than appended, so
// this is rebased against totalRowsFetched directly (totalRowsFetched
// already reflects the current page's item count after fetchNextPage runs).
func (s *Stream) currentPosition() int {
	return s.totalRowsFetched - len(s.buffer) + s.bufIndex
}

// Current returns the row exposed by the most recent successful Advance.
func (s *Stream) Current() (remote.Item, bool) { return s.current, s.hasCurrent }

// RowsReturned is the count of rows exposed so far.
func (s *Stream) RowsReturned() int { return s.rowsReturned }

// TotalRowsFetched is the count of rows pulled from the remote service,
// including skipped (offset) rows.
func (s *Stream) TotalRowsFetched() int { return s.totalRowsFetched }

// Err returns the error that caused Advance to stop, if any.
func (s *Stream) Err() error { return s.err }

// TableKeyHint returns the construction-time table-key hint, used by Rows to
// order SELECT * columns. The executor sets it to the table name.
func (s *Stream) TableKeyHint() string { return s.cfg.TableKeyHint }
