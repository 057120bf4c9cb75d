package schema

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ddbsql/ddbsql/internal/observability"
)

// DiscoveryConfig mirrors spec.md §4.7.
type DiscoveryConfig struct {
	Enabled       bool
	MaxConcurrent int
}

func DefaultDiscoveryConfig(cores int) DiscoveryConfig {
	if cores <= 0 {
		cores = 1
	}
	return DiscoveryConfig{Enabled: true, MaxConcurrent: 2 * cores}
}

// tableSampler is the subset of *Sampler that Discovery depends on. Accepting
// the interface rather than the concrete type keeps C7 testable without a
// live remote.Client, the same "accept interfaces" idiom the teacher follows
// for its repository/factory seams.
type tableSampler interface {
	Sample(ctx context.Context, table string, policy SamplePolicy) (ColumnMap, error)
}

// Discovery parallelizes the Sampler over many tables with per-table
// de-duplication (C7). The de-dup guarantee ("at most one sampling
// operation per table in flight") comes directly from
// golang.org/x/sync/singleflight.Group's key-sharing semantics — the same
// library _examples/other_examples/09c96a56_jordigilh-kubernaut pairs with
// zap/Prometheus in its cached query executor, which is the idiom this type
// follows.
type Discovery struct {
	sampler tableSampler
	cfg     DiscoveryConfig
	group   singleflight.Group
	sem     chan struct{}
	logger  *zap.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewDiscovery(sampler tableSampler, cfg DiscoveryConfig, logger *zap.Logger) *Discovery {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	return &Discovery{
		sampler: sampler,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		logger:  observability.WithFallback(logger),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Future is a handle to an in-flight or completed discovery.
type Future struct {
	done <-chan singleflight.Result
}

// Wait blocks until the sampling operation completes and returns its result.
func (f *Future) Wait() (ColumnMap, error) {
	res := <-f.done
	if res.Err != nil {
		return nil, res.Err
	}
	cols, _ := res.Val.(ColumnMap)
	return cols, nil
}

// DiscoverAsync starts (or joins) sampling for table and returns a Future.
// Concurrent calls for the same table share the single in-flight operation.
func (d *Discovery) DiscoverAsync(ctx context.Context, table string, policy SamplePolicy) *Future {
	tableCtx, cancel := context.WithCancel(ctx)

	d.mu.Lock()
	if _, inFlight := d.cancels[table]; !inFlight {
		d.cancels[table] = cancel
	} else {
		cancel() // another caller's context already governs this table's in-flight op
	}
	d.mu.Unlock()

	d.wg.Add(1)
	ch := d.group.DoChan(table, func() (interface{}, error) {
		defer func() {
			d.mu.Lock()
			delete(d.cancels, table)
			d.mu.Unlock()
		}()

		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-tableCtx.Done():
			return nil, tableCtx.Err()
		}

		return d.sampler.Sample(tableCtx, table, policy)
	})

	// Joined callers share one execution, so the per-call Add above is
	// balanced here, once per call, when that call's result arrives.
	out := make(chan singleflight.Result, 1)
	go func() {
		defer d.wg.Done()
		out <- <-ch
	}()
	return &Future{done: out}
}

// DiscoverManyAsync fans out DiscoverAsync over tables and collects
// successful results into a map, keyed by table name. Per-table failures are
// logged and omitted — they never fail the batch (spec.md §4.7, §8 scenario
// 4).
func (d *Discovery) DiscoverManyAsync(ctx context.Context, tables []string, policy SamplePolicy) map[string]ColumnMap {
	futures := make(map[string]*Future, len(tables))
	for _, t := range tables {
		futures[t] = d.DiscoverAsync(ctx, t, policy)
	}

	result := make(map[string]ColumnMap, len(tables))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for table, f := range futures {
		wg.Add(1)
		go func(table string, f *Future) {
			defer wg.Done()
			cols, err := f.Wait()
			if err != nil {
				d.logger.Warn("schema discovery failed for table, omitting from batch",
					zap.String("table", table), zap.Error(err))
				return
			}
			mu.Lock()
			result[table] = cols
			mu.Unlock()
		}(table, f)
	}
	wg.Wait()
	return result
}

// Cancel cancels the in-flight discovery for table, if any.
func (d *Discovery) Cancel(table string) {
	d.mu.Lock()
	cancel, ok := d.cancels[table]
	d.mu.Unlock()
	if ok {
		cancel()
	}
}

// Shutdown cancels all in-flight discoveries and waits up to timeout for
// them to drain before returning.
func (d *Discovery) Shutdown(timeout time.Duration) {
	d.mu.Lock()
	for _, cancel := range d.cancels {
		cancel()
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		d.logger.Warn("schema discovery shutdown timed out, force-terminating")
	}
}
