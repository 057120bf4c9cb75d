// Package pool implements the Connection Pool (C11): a bounded pool of
// remote connections with borrow/return, validation policies, idle
// eviction, and min-size enforcement.
//
// The borrow/return/maintenance-task shape is grounded on the teacher's
// circuit breaker and retry machinery (internal/middleware/circuit_breaker.go,
// internal/repository/retry.go), which already run periodic background
// maintenance goroutines guarded by atomic counters and a stop channel; this
// package generalizes that pattern to a full object pool per spec.md §4.11.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ddbsql/ddbsql/internal/driverrors"
	"github.com/ddbsql/ddbsql/internal/observability"
)

// Factory creates and destroys the underlying pooled resource (a remote
// connection). Validate should be cheap (e.g. a lightweight ping-equivalent
// call); it is invoked under testOnBorrow/testOnReturn/testWhileIdle.
type Factory interface {
	Create(ctx context.Context) (interface{}, error)
	Validate(ctx context.Context, conn interface{}) bool
	Destroy(conn interface{})
}

// Config mirrors spec.md §4.11's full tunable surface.
type Config struct {
	MinSize                int
	MaxSize                int
	InitialSize            int
	ConnectionTimeout      time.Duration
	IdleTimeout            time.Duration
	MaxLifetime            time.Duration
	ValidationTimeout      time.Duration
	TestOnBorrow           bool
	TestOnReturn           bool
	TestWhileIdle          bool
	LIFOOrdering           bool
	BlockWhenExhausted     bool
	NumTestsPerEvictionRun int
	TimeBetweenEvictionRuns time.Duration
	MinSizeEnforcementInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinSize:                    1,
		MaxSize:                    10,
		InitialSize:                1,
		ConnectionTimeout:          30 * time.Second,
		IdleTimeout:                10 * time.Minute,
		MaxLifetime:                1 * time.Hour,
		ValidationTimeout:          5 * time.Second,
		TestOnBorrow:               false,
		TestOnReturn:               false,
		TestWhileIdle:              true,
		LIFOOrdering:               true,
		BlockWhenExhausted:         true,
		NumTestsPerEvictionRun:     3,
		TimeBetweenEvictionRuns:    30 * time.Second,
		MinSizeEnforcementInterval: 30 * time.Second,
	}
}

// pooledConn is the {id, underlying, createdAt, lastBorrowAt, lastValidateAt,
// inUse, broken} record of spec.md §3.
type pooledConn struct {
	id             uint64
	underlying     interface{}
	createdAt      time.Time
	lastBorrowAt   time.Time
	lastValidateAt time.Time
	inUse          bool
	broken         bool
}

// Pool is the bounded connection pool of C11.
type Pool struct {
	factory Factory
	cfg     Config
	metrics *observability.Collector
	logger  *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	idle     *list.List // of *pooledConn, front = most-recently-returned
	byConn   map[interface{}]*pooledConn // tracks borrowed connections by underlying identity
	total    int
	active   int
	nextID   uint64
	closed   bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(ctx context.Context, factory Factory, cfg Config, metrics *observability.Collector, logger *zap.Logger) (*Pool, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10
	}
	if metrics == nil {
		metrics = observability.Noop()
	}
	p := &Pool{
		factory: factory,
		cfg:     cfg,
		metrics: metrics,
		logger:  observability.WithFallback(logger),
		idle:    list.New(),
		byConn:  make(map[interface{}]*pooledConn),
		stopCh:  make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	for i := 0; i < cfg.InitialSize; i++ {
		conn, err := p.createLocked(ctx)
		if err != nil {
			p.logger.Warn("initial pool connection failed", zap.Error(err))
			break
		}
		p.mu.Lock()
		p.idle.PushBack(conn)
		p.mu.Unlock()
	}

	p.wg.Add(2)
	go p.evictionLoop()
	go p.minSizeLoop()

	return p, nil
}

func (p *Pool) createLocked(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.total >= p.cfg.MaxSize {
		p.mu.Unlock()
		return nil, driverrors.PoolExhaustion("pool.create", p.active, p.total)
	}
	id := p.nextID
	p.nextID++
	p.total++
	p.mu.Unlock()

	underlying, err := p.factory.Create(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		return nil, err
	}
	now := time.Now()
	p.updateGauges()
	return &pooledConn{id: id, underlying: underlying, createdAt: now, lastBorrowAt: now}, nil
}

// Borrow implements spec.md §4.11's borrow() algorithm.
func (p *Pool) Borrow(ctx context.Context) (interface{}, error) {
	deadline := time.Now().Add(p.cfg.ConnectionTimeout)
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, driverrors.New(driverrors.KindPoolExhaustion, "pool.borrow").Message("pool is closed").Build()
		}

		if elem := p.popIdleLocked(); elem != nil {
			conn := elem
			p.mu.Unlock()

			if p.connExpired(conn) || (p.cfg.TestOnBorrow && !p.validate(ctx, conn)) {
				p.destroy(conn)
				continue
			}
			p.mu.Lock()
			conn.inUse = true
			conn.lastBorrowAt = time.Now()
			p.active++
			p.byConn[conn.underlying] = conn
			p.mu.Unlock()
			p.updateGauges()
			return conn.underlying, nil
		}

		if p.total < p.cfg.MaxSize {
			p.mu.Unlock()
			conn, err := p.createLocked(ctx)
			if err != nil {
				if driverrors.IsKind(err, driverrors.KindPoolExhaustion) {
					continue // lost the race for the slot; retry the loop
				}
				return nil, err
			}
			p.mu.Lock()
			conn.inUse = true
			p.active++
			p.byConn[conn.underlying] = conn
			p.mu.Unlock()
			p.updateGauges()
			return conn.underlying, nil
		}

		if !p.cfg.BlockWhenExhausted {
			p.mu.Unlock()
			p.metrics.PoolWaitTimeouts.Inc()
			return nil, driverrors.PoolExhaustion("pool.borrow", p.active, p.total)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			p.mu.Unlock()
			p.metrics.PoolWaitTimeouts.Inc()
			return nil, driverrors.PoolExhaustion("pool.borrow", p.active, p.total)
		}

		waitDone := make(chan struct{})
		go func() {
			select {
			case <-time.After(remaining):
				p.cond.Broadcast()
			case <-waitDone:
			case <-ctx.Done():
				p.cond.Broadcast()
			}
		}()
		p.cond.Wait()
		close(waitDone)
		p.mu.Unlock()

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// loop and retry the borrow
	}
}

// popIdleLocked removes and returns the next idle connection per the
// configured LIFO/FIFO ordering. Caller must hold p.mu; it is released and
// re-acquired is the caller's responsibility (this helper does not unlock).
func (p *Pool) popIdleLocked() *pooledConn {
	var elem *list.Element
	if p.cfg.LIFOOrdering {
		elem = p.idle.Front()
	} else {
		elem = p.idle.Back()
	}
	if elem == nil {
		return nil
	}
	p.idle.Remove(elem)
	return elem.Value.(*pooledConn)
}

// Return implements spec.md §4.11's return() algorithm.
func (p *Pool) Return(ctx context.Context, underlying interface{}) {
	p.mu.Lock()
	conn, tracked := p.byConn[underlying]
	delete(p.byConn, underlying)
	if tracked {
		p.active--
	}
	closed := p.closed
	p.mu.Unlock()

	if !tracked {
		// Unknown connection (already destroyed, or returned twice); ignore.
		return
	}
	if closed {
		p.destroy(conn)
		return
	}

	if p.connExpired(conn) || (p.cfg.TestOnReturn && !p.validate(ctx, conn)) {
		p.destroy(conn)
		return
	}

	conn.inUse = false
	p.mu.Lock()
	p.idle.PushFront(conn)
	p.mu.Unlock()
	p.cond.Broadcast()
	p.updateGauges()
}

func (p *Pool) connExpired(conn *pooledConn) bool {
	if p.cfg.MaxLifetime > 0 && time.Since(conn.createdAt) > p.cfg.MaxLifetime {
		return true
	}
	return conn.broken
}

func (p *Pool) validate(ctx context.Context, conn *pooledConn) bool {
	vctx, cancel := context.WithTimeout(ctx, p.cfg.ValidationTimeout)
	defer cancel()
	ok := p.factory.Validate(vctx, conn.underlying)
	conn.lastValidateAt = time.Now()
	return ok
}

func (p *Pool) destroy(conn *pooledConn) {
	p.destroyUnderlying(conn.underlying)
}

func (p *Pool) destroyUnderlying(underlying interface{}) {
	p.factory.Destroy(underlying)
	p.mu.Lock()
	p.total--
	p.mu.Unlock()
	p.updateGauges()
}

// evictionLoop implements spec.md §4.11's eviction maintenance task.
func (p *Pool) evictionLoop() {
	defer p.wg.Done()
	if p.cfg.TimeBetweenEvictionRuns <= 0 {
		return
	}
	ticker := time.NewTicker(p.cfg.TimeBetweenEvictionRuns)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runEviction()
		}
	}
}

func (p *Pool) runEviction() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ValidationTimeout)
	defer cancel()

	for i := 0; i < p.cfg.NumTestsPerEvictionRun; i++ {
		p.mu.Lock()
		elem := p.idle.Back() // evict from the tail regardless of borrow ordering
		if elem == nil {
			p.mu.Unlock()
			return
		}
		conn := elem.Value.(*pooledConn)
		shouldEvict := p.connExpired(conn) ||
			(p.cfg.IdleTimeout > 0 && time.Since(conn.lastBorrowAt) > p.cfg.IdleTimeout)
		if !shouldEvict && p.cfg.TestWhileIdle {
			shouldEvict = !p.validate(ctx, conn)
		}
		if !shouldEvict {
			p.mu.Unlock()
			return
		}
		p.idle.Remove(elem)
		p.mu.Unlock()
		p.destroy(conn)
	}
}

// minSizeLoop implements spec.md §4.11's min-size enforcement task.
func (p *Pool) minSizeLoop() {
	defer p.wg.Done()
	interval := p.cfg.MinSizeEnforcementInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.enforceMinSize()
		}
	}
}

func (p *Pool) enforceMinSize() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectionTimeout)
	defer cancel()
	for {
		p.mu.Lock()
		deficit := p.cfg.MinSize - p.total
		p.mu.Unlock()
		if deficit <= 0 {
			return
		}
		conn, err := p.createLocked(ctx)
		if err != nil {
			p.logger.Warn("min-size enforcement failed to create connection", zap.Error(err))
			return
		}
		p.mu.Lock()
		p.idle.PushBack(conn)
		p.mu.Unlock()
		p.cond.Broadcast()
	}
}

func (p *Pool) updateGauges() {
	p.mu.Lock()
	active, total := p.active, p.total
	idle := p.idle.Len()
	p.mu.Unlock()
	p.metrics.PoolActive.Set(float64(active))
	p.metrics.PoolIdle.Set(float64(idle))
	p.metrics.PoolTotal.Set(float64(total))
}

// Stats reports the pool's current occupancy.
type Stats struct {
	Active int
	Idle   int
	Total  int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Active: p.active, Idle: p.idle.Len(), Total: p.total}
}

// Close implements spec.md §4.11's shutdown: stop maintenance, drain and
// destroy every idle connection. In-flight borrowed connections are
// destroyed as they're returned (Return checks p.closed).
func (p *Pool) Close() {
	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.mu.Lock()
		p.closed = true
		var drained []*pooledConn
		for elem := p.idle.Front(); elem != nil; elem = elem.Next() {
			drained = append(drained, elem.Value.(*pooledConn))
		}
		p.idle.Init()
		p.mu.Unlock()
		p.cond.Broadcast()

		for _, conn := range drained {
			p.destroy(conn)
		}
	})
	p.wg.Wait()
}
