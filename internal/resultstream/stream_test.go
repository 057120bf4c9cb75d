package resultstream

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddbsql/ddbsql/internal/offsetcache"
	"github.com/ddbsql/ddbsql/internal/remote"
)

func itemsN(n int, startAt int) []remote.Item {
	out := make([]remote.Item, n)
	for i := 0; i < n; i++ {
		out[i] = remote.Item{"id": {Tag: remote.TagNumber, N: intToStr(startAt + i)}}
	}
	return out
}

func intToStr(v int) string {
	digits := []byte{}
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	for v > 0 {
		digits = append([]byte{byte('0' + v%10)}, digits...)
		v /= 10
	}
	if neg {
		digits = append([]byte{'-'}, digits...)
	}
	return string(digits)
}

// pagedFetcher serves a fixed sequence of pages keyed by nextToken, recording
// the limit it was called with at each step.
type pagedFetcher struct {
	pages      map[string]remote.PageResponse
	calledWith []int32
}

func (f *pagedFetcher) fetch(ctx context.Context, nextToken string, limit int32) (remote.PageResponse, error) {
	f.calledWith = append(f.calledWith, limit)
	page, ok := f.pages[nextToken]
	if !ok {
		return remote.PageResponse{}, nil
	}
	return page, nil
}

func TestStream_BasicAdvance_NoLimitNoOffset(t *testing.T) {
	first := remote.PageResponse{Items: itemsN(2, 0), NextToken: "p2"}
	f := &pagedFetcher{pages: map[string]remote.PageResponse{
		"p2": {Items: itemsN(2, 2), NextToken: ""},
	}}

	cfg := Config{FetchSize: 10}
	s := New(f.fetch, cfg, first, 0)

	var got []int
	for {
		err := s.Advance(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		item, ok := s.Current()
		require.True(t, ok)
		got = append(got, len(item))
	}
	assert.Equal(t, 4, s.RowsReturned())
	assert.Equal(t, 4, s.TotalRowsFetched())
}

func TestStream_RespectsLimit(t *testing.T) {
	first := remote.PageResponse{Items: itemsN(5, 0), NextToken: "p2"}
	f := &pagedFetcher{pages: map[string]remote.PageResponse{
		"p2": {Items: itemsN(5, 5), NextToken: ""},
	}}

	limit := 3
	cfg := Config{FetchSize: 10, Limit: &limit}
	s := New(f.fetch, cfg, first, 0)

	count := 0
	for {
		err := s.Advance(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, s.RowsReturned())
}

func TestStream_OffsetSkipsRowsWithoutCountingThem(t *testing.T) {
	first := remote.PageResponse{Items: itemsN(5, 0), NextToken: ""}
	f := &pagedFetcher{}

	cfg := Config{FetchSize: 10}
	s := New(f.fetch, cfg, first, 2) // skip first 2 rows

	var ids []remote.Item
	for {
		err := s.Advance(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		item, _ := s.Current()
		ids = append(ids, item)
	}
	assert.Equal(t, 3, s.RowsReturned())
	assert.Equal(t, 5, s.TotalRowsFetched(), "skipped rows still count toward rows fetched")
	assert.Len(t, ids, 3)
}

func TestStream_FetchesAdditionalPagesWithDecreasingLimit(t *testing.T) {
	first := remote.PageResponse{Items: itemsN(2, 0), NextToken: "p2"}
	f := &pagedFetcher{pages: map[string]remote.PageResponse{
		"p2": {Items: itemsN(2, 2), NextToken: "p3"},
		"p3": {Items: itemsN(2, 4), NextToken: ""},
	}}

	limit := 5
	cfg := Config{FetchSize: 10, Limit: &limit}
	s := New(f.fetch, cfg, first, 0)

	for {
		err := s.Advance(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	assert.Equal(t, 5, s.RowsReturned())
	require.Len(t, f.calledWith, 2, "two additional pages fetched beyond the initial page")
	// remainingLimit = limit - rowsReturned decreases monotonically as pages are consumed.
	assert.LessOrEqual(t, f.calledWith[1], f.calledWith[0])
}

func TestStream_MaxRowsFinalNeverLoosensOnceSet(t *testing.T) {
	first := remote.PageResponse{Items: itemsN(1, 0), NextToken: "p2"}
	f := &pagedFetcher{pages: map[string]remote.PageResponse{
		"p2": {Items: itemsN(1, 1), NextToken: "p3"},
		"p3": {Items: itemsN(1, 2), NextToken: ""},
	}}

	// MaxRows == 0 substitutes FetchSize as the safety cap, fixed at construction.
	cfg := Config{FetchSize: 2, MaxRows: 0}
	s := New(f.fetch, cfg, first, 0)
	require.Equal(t, 2, s.maxRowsFinal)

	for i := 0; i < 5; i++ {
		s.recomputeEffectiveLimit()
		assert.Equal(t, 2, s.maxRowsFinal, "maxRowsFinal must not change across recomputes")
	}
}

func TestStream_EffectiveLimitFinalCombinesLimitAndMaxRows(t *testing.T) {
	first := remote.PageResponse{Items: nil, NextToken: ""}
	f := &pagedFetcher{}
	limit := 100
	cfg := Config{FetchSize: 10, Limit: &limit, MaxRows: 7}
	s := New(f.fetch, cfg, first, 0)

	assert.Equal(t, 7, s.effectiveLimitFinal(), "maxRows is the tighter ceiling here")
}

func TestStream_TerminatesOnEmptyNextToken(t *testing.T) {
	first := remote.PageResponse{Items: itemsN(1, 0), NextToken: ""}
	f := &pagedFetcher{}
	cfg := Config{FetchSize: 10}
	s := New(f.fetch, cfg, first, 0)

	require.NoError(t, s.Advance(context.Background()))
	err := s.Advance(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Empty(t, f.calledWith, "must not fetch another page when nextToken is empty")
}

func TestResolveInitialOffset_NoCacheReturnsOffsetUnchanged(t *testing.T) {
	residual, token := ResolveInitialOffset(nil, `SELECT * FROM "orders"`, 50)
	assert.Equal(t, 50, residual)
	assert.Empty(t, token)
}

func TestResolveInitialOffset_ZeroOffsetSkipsCacheLookup(t *testing.T) {
	cache := offsetcache.New(offsetcache.DefaultConfig(), nil)
	residual, token := ResolveInitialOffset(cache, `SELECT * FROM "orders"`, 0)
	assert.Equal(t, 0, residual)
	assert.Empty(t, token)
}

func TestResolveInitialOffset_UsesNearestCachedPositionAsResidual(t *testing.T) {
	sql := `SELECT * FROM "orders"`
	cache := offsetcache.New(offsetcache.Config{Interval: 100, Size: 10}, nil)
	cache.Put(sql, 200, "tok-200")

	residual, token := ResolveInitialOffset(cache, sql, 250)
	assert.Equal(t, 50, residual, "residual is offset minus the cached page-boundary position")
	assert.Equal(t, "tok-200", token)
}

func TestResolveInitialOffset_MissFallsBackToFullOffset(t *testing.T) {
	sql := `SELECT * FROM "orders"`
	cache := offsetcache.New(offsetcache.DefaultConfig(), nil)

	residual, token := ResolveInitialOffset(cache, sql, 30)
	assert.Equal(t, 30, residual)
	assert.Empty(t, token)
}
