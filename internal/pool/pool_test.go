package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddbsql/ddbsql/internal/driverrors"
	"github.com/ddbsql/ddbsql/internal/observability"
)

type fakeConn struct{ id int64 }

type fakeFactory struct {
	mu        sync.Mutex
	nextID    int64
	created   int
	destroyed int
	validateFunc func(conn interface{}) bool
}

func (f *fakeFactory) Create(ctx context.Context) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.created++
	return &fakeConn{id: f.nextID}, nil
}

func (f *fakeFactory) Validate(ctx context.Context, conn interface{}) bool {
	if f.validateFunc != nil {
		return f.validateFunc(conn)
	}
	return true
}

func (f *fakeFactory) Destroy(conn interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
}

func noEviction(cfg Config) Config {
	cfg.TimeBetweenEvictionRuns = 0
	cfg.MinSizeEnforcementInterval = time.Hour
	return cfg
}

func TestPool_BorrowReturnRoundTrip(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 2
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Active: 1, Idle: 0, Total: 1}, p.Stats())

	p.Return(context.Background(), conn)
	assert.Equal(t, Stats{Active: 0, Idle: 1, Total: 1}, p.Stats())
}

func TestPool_BorrowReusesIdleConnectionRatherThanCreating(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 5
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	p.Return(context.Background(), conn)

	_, err = p.Borrow(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	created := f.created
	f.mu.Unlock()
	assert.Equal(t, 1, created, "second borrow must reuse the returned connection, not create a new one")
}

func TestPool_ReturnPreservesCreatedAtAcrossCycles(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 1
	cfg.MaxLifetime = 50 * time.Millisecond
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	p.Return(context.Background(), conn)

	time.Sleep(60 * time.Millisecond)

	// The connection has now exceeded MaxLifetime since its original
	// creation; borrowing it must detect expiry (via the tracked createdAt,
	// not a reset one) and transparently create a replacement instead.
	_, err = p.Borrow(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	destroyed := f.destroyed
	created := f.created
	f.mu.Unlock()
	assert.Equal(t, 1, destroyed, "expired connection must be destroyed on borrow")
	assert.Equal(t, 2, created)
}

func TestPool_ExhaustionWithoutBlockingReturnsError(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 1
	cfg.BlockWhenExhausted = false
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Borrow(context.Background())
	require.NoError(t, err)

	_, err = p.Borrow(context.Background())
	require.Error(t, err)
	assert.True(t, driverrors.IsKind(err, driverrors.KindPoolExhaustion))
}

func TestPool_BlockingBorrowUnblocksOnReturn(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 1
	cfg.BlockWhenExhausted = true
	cfg.ConnectionTimeout = 2 * time.Second
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)

	var got interface{}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := p.Borrow(context.Background())
		require.NoError(t, err)
		got = c
	}()

	time.Sleep(20 * time.Millisecond)
	p.Return(context.Background(), conn)
	wg.Wait()
	assert.Equal(t, conn, got)
}

func TestPool_BlockingBorrowTimesOut(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 1
	cfg.BlockWhenExhausted = true
	cfg.ConnectionTimeout = 30 * time.Millisecond
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Borrow(context.Background())
	require.NoError(t, err)

	_, err = p.Borrow(context.Background())
	require.Error(t, err)
	assert.True(t, driverrors.IsKind(err, driverrors.KindPoolExhaustion))
}

func TestPool_TestOnBorrowDestroysInvalidConnection(t *testing.T) {
	var calls int32
	f := &fakeFactory{validateFunc: func(conn interface{}) bool {
		n := atomic.AddInt32(&calls, 1)
		return n > 1 // first validation (on the returned conn) fails, then succeeds for its replacement
	}}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 2
	cfg.TestOnBorrow = true
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)
	p.Return(context.Background(), conn)

	_, err = p.Borrow(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	destroyed := f.destroyed
	f.mu.Unlock()
	assert.Equal(t, 1, destroyed, "the idle connection that failed validation must be destroyed, not reused")
}

func TestPool_DoubleReturnIsIgnored(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 2
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	conn, err := p.Borrow(context.Background())
	require.NoError(t, err)

	p.Return(context.Background(), conn)
	p.Return(context.Background(), conn) // must not double-count into idle

	assert.Equal(t, Stats{Active: 0, Idle: 1, Total: 1}, p.Stats())
}

func TestPool_MinSizeEnforcementCreatesMissingConnections(t *testing.T) {
	f := &fakeFactory{}
	cfg := DefaultConfig()
	cfg.InitialSize = 0
	cfg.MinSize = 2
	cfg.MaxSize = 5
	cfg.TimeBetweenEvictionRuns = 0
	cfg.MinSizeEnforcementInterval = 10 * time.Millisecond
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Eventually(t, func() bool {
		return p.Stats().Total >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestPool_CloseDestroysIdleConnections(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 2
	cfg.MaxSize = 5
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)

	p.Close()

	f.mu.Lock()
	destroyed := f.destroyed
	f.mu.Unlock()
	assert.Equal(t, 2, destroyed)
	assert.Equal(t, Stats{Active: 0, Idle: 0, Total: 0}, p.Stats())
}

func TestPool_LIFOOrderingReturnsMostRecentlyReturnedFirst(t *testing.T) {
	f := &fakeFactory{}
	cfg := noEviction(DefaultConfig())
	cfg.InitialSize = 0
	cfg.MaxSize = 5
	cfg.LIFOOrdering = true
	p, err := New(context.Background(), f, cfg, observability.Noop(), nil)
	require.NoError(t, err)
	defer p.Close()

	a, err := p.Borrow(context.Background())
	require.NoError(t, err)
	b, err := p.Borrow(context.Background())
	require.NoError(t, err)

	p.Return(context.Background(), a)
	p.Return(context.Background(), b)

	got, err := p.Borrow(context.Background())
	require.NoError(t, err)
	assert.Equal(t, b, got, "LIFO ordering must hand back the most recently returned connection first")
}
