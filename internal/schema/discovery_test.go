package schema

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSampler lets tests control timing and per-table outcomes without a
// live remote.Client.
type fakeSampler struct {
	mu       sync.Mutex
	calls    int32
	inFlight int32
	maxConcurrentObserved int32
	delay    time.Duration
	fail     map[string]error
}

func newFakeSampler(delay time.Duration) *fakeSampler {
	return &fakeSampler{delay: delay, fail: make(map[string]error)}
}

func (f *fakeSampler) Sample(ctx context.Context, table string, policy SamplePolicy) (ColumnMap, error) {
	atomic.AddInt32(&f.calls, 1)
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		observed := atomic.LoadInt32(&f.maxConcurrentObserved)
		if cur <= observed || atomic.CompareAndSwapInt32(&f.maxConcurrentObserved, observed, cur) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	err := f.fail[table]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return ColumnMap{"id": {ColumnName: "id"}}, nil
}

func TestDiscovery_DeduplicatesInFlightSampling(t *testing.T) {
	sampler := newFakeSampler(50 * time.Millisecond)
	d := NewDiscovery(sampler, DiscoveryConfig{Enabled: true, MaxConcurrent: 4}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.DiscoverAsync(context.Background(), "Orders", SamplePolicy{}).Wait()
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&sampler.calls), "concurrent calls for the same table must share one sampling operation")
}

func TestDiscovery_ManyAsyncOmitsFailedTables(t *testing.T) {
	sampler := newFakeSampler(0)
	sampler.fail["B"] = errors.New("scan denied")
	d := NewDiscovery(sampler, DiscoveryConfig{Enabled: true, MaxConcurrent: 4}, nil)

	result := d.DiscoverManyAsync(context.Background(), []string{"A", "B", "C"}, SamplePolicy{})

	require.Contains(t, result, "A")
	require.Contains(t, result, "C")
	assert.NotContains(t, result, "B")
}

func TestDiscovery_RespectsMaxConcurrent(t *testing.T) {
	sampler := newFakeSampler(30 * time.Millisecond)
	d := NewDiscovery(sampler, DiscoveryConfig{Enabled: true, MaxConcurrent: 2}, nil)

	tables := []string{"A", "B", "C", "D", "E", "F"}
	d.DiscoverManyAsync(context.Background(), tables, SamplePolicy{})

	assert.LessOrEqual(t, atomic.LoadInt32(&sampler.maxConcurrentObserved), int32(2))
}

func TestDiscovery_CancelStopsInFlightWork(t *testing.T) {
	sampler := newFakeSampler(200 * time.Millisecond)
	d := NewDiscovery(sampler, DiscoveryConfig{Enabled: true, MaxConcurrent: 4}, nil)

	future := d.DiscoverAsync(context.Background(), "Orders", SamplePolicy{})
	time.Sleep(10 * time.Millisecond)
	d.Cancel("Orders")

	_, err := future.Wait()
	assert.Error(t, err)
}

func TestDiscovery_ShutdownDrainsWithinTimeout(t *testing.T) {
	sampler := newFakeSampler(10 * time.Millisecond)
	d := NewDiscovery(sampler, DiscoveryConfig{Enabled: true, MaxConcurrent: 4}, nil)

	d.DiscoverAsync(context.Background(), "Orders", SamplePolicy{})
	d.Shutdown(500 * time.Millisecond)
}
