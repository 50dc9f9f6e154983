package pool

import (
	"context"
	"log"
	"time"
)

// startResourceMonitoringLocked starts the usage-sampling timer exactly
// once per Engine. interval <= 0 falls back to Options.MonitorInterval,
// matching how startPoolWatcherLocked is driven directly off the Options
// value rather than requiring every caller to thread it through.
func (e *Engine) startResourceMonitoringLocked(interval time.Duration) {
	e.mu.Lock()
	if e.monitorStarted || e.shuttingDown {
		e.mu.Unlock()
		return
	}
	if interval <= 0 {
		interval = e.opts.MonitorInterval
	}
	e.monitorStarted = true
	ctx, cancel := context.WithCancel(context.Background())
	e.monitorCancel = cancel
	e.mu.Unlock()

	go e.monitorLoop(ctx, interval)
}

func (e *Engine) monitorLoop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			e.sampleUsage(ctx)
		}
	}
}

// sampleUsage probes each pooled resource's current consumption. A
// per-handle sampling error is logged and skipped rather than aborting
// the round: one backend hiccup must not stop monitoring the rest of the
// pool.
func (e *Engine) sampleUsage(ctx context.Context) {
	e.mu.Lock()
	snapshot := append([]*Handle(nil), e.resources...)
	e.mu.Unlock()

	for _, h := range snapshot {
		usage, err := e.adapter.Usage(ctx, h)
		if err != nil {
			log.Printf("pool: usage sample %s: %v", h.Name, err)
			continue
		}
		if usage == nil {
			continue
		}

		e.mu.Lock()
		h.Usage = usage
		e.mu.Unlock()
	}
}
