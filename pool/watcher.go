package pool

import (
	"context"
	"log"
	"time"
)

// startPoolWatcherLocked starts the idle-eviction/pre-warm timer exactly
// once per Engine. Safe to call from every Acquire; subsequent calls are
// no-ops once the watcher is running.
func (e *Engine) startPoolWatcherLocked() {
	e.mu.Lock()
	if e.watcherStarted || e.shuttingDown {
		e.mu.Unlock()
		return
	}
	e.watcherStarted = true
	ctx, cancel := context.WithCancel(context.Background())
	e.watcherCancel = cancel
	e.mu.Unlock()

	go e.fillToMin(ctx)
	go e.watchLoop(ctx)
}

func (e *Engine) watchLoop(ctx context.Context) {
	t := time.NewTicker(e.opts.PoolCheckInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.evictIdle(ctx)
			e.fillToMin(ctx)
		}
	}
}

// evictIdle removes the oldest pool member when no acquisition has been
// made for longer than PoolCheckInterval. It does not stop at MinPoolSize;
// fillToMin, which runs right after it on the same tick, replenishes the
// pool back up to MinPoolSize. Only one member is evicted per tick, so a
// sudden drop in traffic drains gradually rather than all at once.
func (e *Engine) evictIdle(ctx context.Context) {
	e.mu.Lock()
	if e.shuttingDown || len(e.resources) == 0 {
		e.mu.Unlock()
		return
	}
	idleFor := e.now() - e.lastRequestTime
	if idleFor <= e.opts.PoolCheckInterval.Milliseconds() {
		e.mu.Unlock()
		return
	}
	victim := e.resources[0]
	e.mu.Unlock()

	tctx, cancel := context.WithTimeout(ctx, e.opts.ShutdownTimeout)
	defer cancel()
	if err := e.adapter.Terminate(tctx, victim); err != nil {
		log.Printf("pool: evict %s: %v", victim.Name, err)
	}

	e.mu.Lock()
	e.evictByNameLocked(victim.Name)
	e.mu.Unlock()
}

// fillToMin tops the pool up to MinPoolSize, throttled by the engine's
// creation rate limiter so a cold start or a post-eviction dip does not
// open a burst of simultaneous creation calls against the backend.
func (e *Engine) fillToMin(ctx context.Context) {
	for {
		e.mu.Lock()
		if e.shuttingDown || len(e.resources) >= e.opts.MinPoolSize {
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		if err := e.limiter.Wait(ctx); err != nil {
			return
		}

		cfg := Config{}
		if e.opts.PreWarmConfig != nil {
			cfg = *e.opts.PreWarmConfig
		}

		h, err := e.createOne(ctx, cfg)
		if err != nil {
			log.Printf("pool: pre-warm create failed: %v", err)
			return
		}

		e.mu.Lock()
		if e.shuttingDown || len(e.resources) >= e.opts.MaxPoolSize {
			e.mu.Unlock()
			tctx, cancel := context.WithTimeout(context.Background(), e.opts.ShutdownTimeout)
			if terr := e.adapter.Terminate(tctx, h); terr != nil {
				log.Printf("pool: terminate surplus pre-warm %s: %v", h.Name, terr)
			}
			cancel()
			return
		}
		e.admitLocked(h)
		e.mu.Unlock()
	}
}
