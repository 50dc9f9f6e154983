// Package pool implements the generic serverless resource pool engine:
// the lifecycle state machine of a pooled resource under concurrent
// acquisition, timed provisioning, idle eviction, and graceful drain,
// driving a pluggable Adapter for the kind-specific operations.
package pool

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/serverlesspool/poolengine/metrics"
	"github.com/serverlesspool/poolengine/portutil"
	"github.com/serverlesspool/poolengine/ratelimit"
)

// Engine owns a bounded pool of resources of one kind, delegating
// resource-specific work to an Adapter. One Engine instance manages
// exactly one resource kind; heterogeneous pools are out of scope.
type Engine struct {
	adapter Adapter
	opts    Options
	metrics *metrics.Registry

	mu              sync.Mutex
	resources       []*Handle
	index           map[string]int
	lastRequestTime int64
	shuttingDown    bool

	watcherStarted bool
	watcherCancel  context.CancelFunc

	monitorStarted bool
	monitorCancel  context.CancelFunc

	limiter     *rate.Limiter
	byTargetKey *ratelimit.Keyed

	detachSignals func()
}

// New constructs an Engine around adapter with the given Options.
// MinPoolSize greater than MaxPoolSize is clamped to MaxPoolSize.
func New(adapter Adapter, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.MinPoolSize > o.MaxPoolSize {
		o.MinPoolSize = o.MaxPoolSize
	}

	e := &Engine{
		adapter:     adapter,
		opts:        o,
		metrics:     metrics.New(adapter.TypeTag(), o.ManagerName),
		index:       make(map[string]int),
		limiter:     rate.NewLimiter(rate.Limit(o.CreationRate), o.CreationBurst),
		byTargetKey: ratelimit.New(rate.Limit(o.CreationRate), o.CreationBurst, o.PoolCheckInterval),
	}
	e.detachSignals = registerShutdownSignals(e)
	return e
}

func (e *Engine) now() int64 { return e.opts.Now().UnixMilli() }

// MetricsText renders the current counters/gauge in Prometheus text
// exposition format.
func (e *Engine) MetricsText() (string, error) {
	return e.metrics.Text()
}

// Acquire tries to grow the pool if there is room, otherwise round-robin
// selects an existing member, removing any member whose liveness probe
// fails.
func (e *Engine) Acquire(ctx context.Context, cfg Config) (*Handle, error) {
	e.mu.Lock()
	shuttingDown := e.shuttingDown
	e.mu.Unlock()
	if shuttingDown {
		return nil, newErr(ShuttingDown, "", 0, fmt.Errorf("manager is shutting down"))
	}

	if err := e.adapter.Validate(cfg); err != nil {
		return nil, newErr(BadConfig, "", 0, err)
	}

	e.mu.Lock()
	e.lastRequestTime = e.now()
	e.mu.Unlock()

	e.startPoolWatcherLocked()
	e.startResourceMonitoringLocked(0)

	if h, err, tried := e.tryCreate(ctx, cfg); tried {
		if err == nil {
			return h, nil
		}
		// CreationFailure/CreationTimeout: already logged by tryCreate,
		// fall through to selecting an existing member instead.
	}

	return e.selectFromPool(ctx)
}

// tryCreate attempts to create a new pool member when there is room. tried
// is false when no handle came out of it without an error: either the pool
// was already at capacity, so creation never ran, or the pool filled while
// creating and the new handle was terminated. tried is true when creation
// ran and either admitted h or failed with err.
func (e *Engine) tryCreate(ctx context.Context, cfg Config) (h *Handle, err error, tried bool) {
	e.mu.Lock()
	hasRoom := len(e.resources) < e.opts.MaxPoolSize
	e.mu.Unlock()
	if !hasRoom {
		return nil, nil, false
	}

	created, cerr := e.createOne(ctx, cfg)
	if cerr != nil {
		log.Printf("pool: create failed: %v", cerr)
		return nil, cerr, true
	}

	e.mu.Lock()
	if len(e.resources) < e.opts.MaxPoolSize {
		e.admitLocked(created)
		e.metrics.IncRequests()
		e.metrics.IncHits()
		e.mu.Unlock()
		return created, nil, true
	}
	e.mu.Unlock()

	// Lost the race: the pool filled while we were creating. The
	// additions counter must not increment for a handle that never
	// entered the pool.
	log.Printf("pool: create %s lost race, pool already full, terminating", created.Name)
	tctx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
	defer cancel()
	if terr := e.adapter.Terminate(tctx, created); terr != nil {
		log.Printf("pool: terminate lost-race %s: %v", created.Name, terr)
	}
	return nil, nil, false
}

// createOne obtains a port, builds a name, and calls Adapter.Create under
// the configured creation deadline. A per-target-key limiter (keyed on the
// backend this Config would create against) is checked first so a caller
// hammering one image/namespace cannot starve creation against another
// sharing this Engine's overall creation budget.
func (e *Engine) createOne(ctx context.Context, cfg Config) (*Handle, error) {
	if !e.byTargetKey.Allow(targetKey(cfg)) {
		return nil, newErr(Transient, "", 0, fmt.Errorf("creation rate exceeded for this target"))
	}

	port, err := portutil.Allocate()
	if err != nil {
		return nil, newErr(CreationFailure, "", 0, fmt.Errorf("allocate port: %w", err))
	}

	name := fmt.Sprintf("%s-%d-%d", e.adapter.TypeTag(), port, e.now())

	cctx, cancel := context.WithTimeout(ctx, e.opts.CreationTimeout)
	defer cancel()

	native, err := e.adapter.Create(cctx, port, name, cfg)
	if err != nil {
		if cctx.Err() != nil {
			return nil, newErr(CreationTimeout, name, port, err)
		}
		return nil, newErr(CreationFailure, name, port, err)
	}

	now := e.now()
	h := &Handle{
		Name:      name,
		Port:      port,
		CreatedAt: now,
		LastUsed:  now,
		Native:    native,
	}
	stampNative(h)
	return h, nil
}

// stampNative fills in the type-specific projection fields a Native payload
// carries: ID for the backends that expose a separate backend identifier
// (container, pod), Alive for the backends that track liveness as a
// property of the native handle rather than a backend query (worker,
// process). A freshly created handle is alive by construction.
func stampNative(h *Handle) {
	switch n := h.Native.(type) {
	case NativeContainer:
		id := n.ContainerID
		h.ID = &id
	case NativePod:
		id := n.PodName
		h.ID = &id
	case NativeWorker, NativeProcess:
		stampAlive(h, true)
	}
}

// stampAlive updates h.Alive for worker/process handles, whose liveness the
// engine learns at creation and at every probe. No-op for container/pod,
// whose Projection.Alive is always nil in favor of a fresh probe.
func stampAlive(h *Handle, alive bool) {
	switch h.Native.(type) {
	case NativeWorker, NativeProcess:
		h.Alive = &alive
	}
}

// targetKey derives the bucket a creation attempt is throttled under: the
// backend-identifying fields of Config, not the whole struct, so two
// acquisitions with different ScriptFiles against the same image still
// share a budget.
func targetKey(cfg Config) string {
	return strings.Join([]string{cfg.DefaultImageName, cfg.DefaultContainerName, cfg.Namespace, cfg.DefaultPodName}, "\x00")
}

// admitLocked adds h to the pool. Caller must hold e.mu.
func (e *Engine) admitLocked(h *Handle) {
	e.index[h.Name] = len(e.resources)
	e.resources = append(e.resources, h)
	e.metrics.IncAdditions()
	e.metrics.SetSize(len(e.resources))
}

// removeByNameLocked removes the handle named name, if present, preserving
// order of the remaining handles and keeping index consistent. Caller must
// hold e.mu. Counts as a removal, not an eviction; callers driven by the
// idle-eviction timer must use evictByNameLocked instead.
func (e *Engine) removeByNameLocked(name string) *Handle {
	h := e.detachLocked(name)
	if h == nil {
		return nil
	}
	e.metrics.IncRemovals()
	return h
}

// evictByNameLocked removes the handle named name the same way
// removeByNameLocked does, but counts it against evictions rather than
// removals: an idle eviction is "pop the oldest member," a distinct event
// from a removal driven by a failed liveness probe, a health check, or
// shutdown. Caller must hold e.mu.
func (e *Engine) evictByNameLocked(name string) *Handle {
	h := e.detachLocked(name)
	if h == nil {
		return nil
	}
	e.metrics.IncEvictions()
	return h
}

// detachLocked removes the handle named name from membership and the
// index, common to both removeByNameLocked and evictByNameLocked. Caller
// must hold e.mu.
func (e *Engine) detachLocked(name string) *Handle {
	i, ok := e.index[name]
	if !ok {
		return nil
	}

	h := e.resources[i]
	e.resources = append(e.resources[:i:i], e.resources[i+1:]...)
	delete(e.index, name)
	for j := i; j < len(e.resources); j++ {
		e.index[e.resources[j].Name] = j
	}

	e.metrics.SetSize(len(e.resources))
	return h
}

// selectFromPool round-robin selects a member by wall-clock second, probes
// its liveness, and removes it if the probe fails.
//
// "hits" is bumped at successful selection, not at confirmed liveness: a
// selection that is later found dead still counts as a hit. This is what
// keeps the hits+misses=requests invariant true for every outcome of this
// function.
func (e *Engine) selectFromPool(ctx context.Context) (*Handle, error) {
	e.mu.Lock()
	n := len(e.resources)
	e.metrics.IncRequests()
	if n == 0 {
		e.metrics.IncMisses()
		e.mu.Unlock()
		return nil, newErr(NoResource, "", 0, fmt.Errorf("pool is empty"))
	}

	idx := int(e.opts.Now().Unix()) % n
	h := e.resources[idx]
	e.metrics.IncHits()
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, newErr(LivenessUnknown, h.Name, h.Port, err)
	}

	if e.adapter.Liveness(ctx, h) {
		e.mu.Lock()
		h.LastUsed = e.now()
		stampAlive(h, true)
		e.mu.Unlock()
		return h, nil
	}

	e.mu.Lock()
	e.removeByNameLocked(h.Name)
	var remaining *Handle
	if len(e.resources) > 0 {
		remaining = e.resources[0]
	}
	e.mu.Unlock()

	if remaining == nil {
		return nil, newErr(NoResource, "", 0, fmt.Errorf("selected resource was dead and pool is now empty"))
	}
	return remaining, nil
}

// Projection is the public view of a Handle returned by PoolInfo.
type Projection struct {
	Name      string
	Port      int
	CreatedAt int64
	LastUsed  int64
	Alive     *bool
	ID        *string
	Usage     *Usage
}

// Info is the result of PoolInfo.
type Info struct {
	Size           int
	Max            int
	ShuttingDown   bool
	WatcherStarted bool
	Resources      []Projection
	MetricsText    string
}

// PoolInfo snapshots the pool's membership, configuration, and metrics
// atomically with respect to concurrent Acquire/eviction/shutdown.
func (e *Engine) PoolInfo() Info {
	e.mu.Lock()
	defer e.mu.Unlock()

	resources := lo.Map(e.resources, func(h *Handle, _ int) Projection {
		return Projection{
			Name:      h.Name,
			Port:      h.Port,
			CreatedAt: h.CreatedAt,
			LastUsed:  h.LastUsed,
			Alive:     h.Alive,
			ID:        h.ID,
			Usage:     h.Usage,
		}
	})

	text, _ := e.metrics.Text()

	return Info{
		Size:           len(e.resources),
		Max:            e.opts.MaxPoolSize,
		ShuttingDown:   e.shuttingDown,
		WatcherStarted: e.watcherStarted,
		Resources:      resources,
		MetricsText:    text,
	}
}

// HealthResult is the result of HealthCheck.
type HealthResult struct {
	Total      int
	DeadRemoved int
	Healthy    bool
}

// HealthCheck removes resources whose liveness probe currently fails and
// reports whether the pool is healthy. An empty-but-not-shutting-down pool
// counts as healthy.
func (e *Engine) HealthCheck(ctx context.Context) HealthResult {
	e.mu.Lock()
	snapshot := append([]*Handle(nil), e.resources...)
	shuttingDown := e.shuttingDown
	total := len(snapshot)
	e.mu.Unlock()

	dead := lo.Filter(snapshot, func(h *Handle, _ int) bool {
		alive := e.adapter.Liveness(ctx, h)
		stampAlive(h, alive)
		return !alive
	})

	e.mu.Lock()
	for _, h := range dead {
		e.removeByNameLocked(h.Name)
	}
	size := len(e.resources)
	e.mu.Unlock()

	return HealthResult{
		Total:       total,
		DeadRemoved: len(dead),
		Healthy:     size > 0 || !shuttingDown,
	}
}
