package pool

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecthomas/assert/v2"
)

// fakeAdapter is a same-process stand-in backend: no network calls, just
// enough bookkeeping to drive the engine through its state machine.
type fakeAdapter struct {
	mu          sync.Mutex
	dead        map[string]bool
	created     int
	terminated  []string
	usageErr    error
	shutdownHit bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{dead: make(map[string]bool)}
}

func (f *fakeAdapter) TypeTag() string { return "fake" }

func (f *fakeAdapter) Validate(cfg Config) error {
	if cfg.Extra != nil && cfg.Extra["reject"] == "yes" {
		return errors.New("fake: rejected config")
	}
	return nil
}

func (f *fakeAdapter) Create(ctx context.Context, port int, name string, cfg Config) (Native, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return NativeWorker{}, nil
}

func (f *fakeAdapter) Terminate(ctx context.Context, h *Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, h.Name)
	return nil
}

func (f *fakeAdapter) Liveness(ctx context.Context, h *Handle) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.dead[h.Name]
}

func (f *fakeAdapter) Usage(ctx context.Context, h *Handle) (*Usage, error) {
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	return &Usage{CpuPercent: 1, MemoryBytes: 1024}, nil
}

func (f *fakeAdapter) OnShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdownHit = true
}

func (f *fakeAdapter) kill(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dead[name] = true
}

func newTestEngine(opts ...Option) (*Engine, *fakeAdapter) {
	a := newFakeAdapter()
	base := []Option{
		WithMaxPoolSize(3),
		WithMinPoolSize(0),
		WithPoolCheckInterval(time.Hour),
		WithMonitorInterval(time.Hour),
		WithShutdownTimeout(time.Second),
		WithCreationTimeout(time.Second),
		WithCreationRate(1000, 1000),
	}
	e := New(a, append(base, opts...)...)
	return e, a
}

func TestAcquireCreatesUntilMaxPoolSize(t *testing.T) {
	e, a := newTestEngine(WithMaxPoolSize(2))
	defer e.detachSignals()

	h1, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	h2, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	assert.NotEqual(t, h1.Name, h2.Name)

	info := e.PoolInfo()
	assert.Equal(t, 2, info.Size)
	assert.Equal(t, 2, a.created)
}

func TestAcquireReturnsBadConfigWithoutTouchingPool(t *testing.T) {
	e, a := newTestEngine()
	defer e.detachSignals()

	_, err := e.Acquire(context.Background(), Config{Extra: map[string]string{"reject": "yes"}})
	assert.Error(t, err)
	assert.True(t, IsKind(err, BadConfig))
	assert.Equal(t, 0, a.created)
	assert.Equal(t, 0, e.PoolInfo().Size)
}

func TestAcquireSelectsExistingMemberOnceFull(t *testing.T) {
	e, a := newTestEngine(WithMaxPoolSize(1))
	defer e.detachSignals()

	h1, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)

	h2, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	assert.Equal(t, h1.Name, h2.Name)
	assert.Equal(t, 1, a.created)
}

func TestAcquireRemovesDeadSelectionAndReturnsNoResourceWhenPoolEmptiesOut(t *testing.T) {
	e, a := newTestEngine(WithMaxPoolSize(1))
	defer e.detachSignals()

	h1, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	a.kill(h1.Name)

	_, err = e.Acquire(context.Background(), Config{})
	assert.Error(t, err)
	assert.True(t, IsKind(err, NoResource))
	assert.Equal(t, 0, e.PoolInfo().Size)
}

func TestSelectFromPoolReturnsLivenessUnknownWhenContextAlreadyDone(t *testing.T) {
	e, _ := newTestEngine(WithMaxPoolSize(1))
	defer e.detachSignals()

	_, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.selectFromPool(ctx)
	assert.Error(t, err)
	assert.True(t, IsKind(err, LivenessUnknown))
	assert.Equal(t, 1, e.PoolInfo().Size)
}

func TestHitsPlusMissesEqualsRequestsAcrossOutcomes(t *testing.T) {
	e, _ := newTestEngine(WithMaxPoolSize(1))
	defer e.detachSignals()

	_, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	_, err = e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)

	text, err := e.MetricsText()
	assert.NoError(t, err)
	assert.True(t, strings.Contains(text, `_requests_total{manager="default",resource_type="fake"} 2`))
	assert.True(t, strings.Contains(text, `_hits_total{manager="default",resource_type="fake"} 2`))
	assert.True(t, strings.Contains(text, `_misses_total{manager="default",resource_type="fake"} 0`))
}

func TestAcquireStampsAliveOnProjectionForWorkerLikeHandles(t *testing.T) {
	e, _ := newTestEngine(WithMaxPoolSize(1))
	defer e.detachSignals()

	_, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)

	info := e.PoolInfo()
	assert.Equal(t, 1, len(info.Resources))
	assert.True(t, info.Resources[0].Alive != nil && *info.Resources[0].Alive)
	assert.True(t, info.Resources[0].ID == nil)
}

func TestEvictIdleIncrementsEvictionsNotRemovals(t *testing.T) {
	now := time.Now()
	e, a := newTestEngine(
		WithMaxPoolSize(1),
		WithMinPoolSize(0),
		WithPoolCheckInterval(time.Millisecond),
		WithNow(func() time.Time { return now }),
	)
	defer e.detachSignals()

	h, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)

	now = now.Add(time.Second)
	e.evictIdle(context.Background())

	assert.Equal(t, 0, e.PoolInfo().Size)
	assert.Equal(t, 1, len(a.terminated))
	assert.Equal(t, h.Name, a.terminated[0])

	text, err := e.MetricsText()
	assert.NoError(t, err)
	assert.True(t, strings.Contains(text, `_evictions_total{manager="default",resource_type="fake"} 1`))
	assert.True(t, strings.Contains(text, `_removals_total{manager="default",resource_type="fake"} 0`))
}

func TestHealthCheckReportsEmptyNonShuttingDownPoolAsHealthy(t *testing.T) {
	e, _ := newTestEngine()
	defer e.detachSignals()

	result := e.HealthCheck(context.Background())
	assert.Equal(t, 0, result.Total)
	assert.True(t, result.Healthy)
}

func TestHealthCheckRemovesDeadMembers(t *testing.T) {
	e, a := newTestEngine(WithMaxPoolSize(2))
	defer e.detachSignals()

	h1, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	_, err = e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	a.kill(h1.Name)

	result := e.HealthCheck(context.Background())
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.DeadRemoved)
	assert.Equal(t, 1, e.PoolInfo().Size)
}

func TestShutdownTerminatesEveryMemberAndIsIdempotent(t *testing.T) {
	e, a := newTestEngine(WithMaxPoolSize(2))

	_, err := e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)
	_, err = e.Acquire(context.Background(), Config{})
	assert.NoError(t, err)

	assert.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, 2, len(a.terminated))
	assert.True(t, a.shutdownHit)
	assert.Equal(t, 0, e.PoolInfo().Size)

	// Second call is a no-op: no additional terminate calls.
	assert.NoError(t, e.Shutdown(context.Background()))
	assert.Equal(t, 2, len(a.terminated))
}

func TestAcquireAfterShutdownFails(t *testing.T) {
	e, _ := newTestEngine()
	assert.NoError(t, e.Shutdown(context.Background()))

	_, err := e.Acquire(context.Background(), Config{})
	assert.Error(t, err)
	assert.True(t, IsKind(err, ShuttingDown))
}
