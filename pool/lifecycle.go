package pool

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// registerShutdownSignals calls Shutdown on the first SIGINT/SIGTERM. The
// returned func stops listening for signals without shutting the engine
// down, for tests and for callers that manage their own signal handling.
func registerShutdownSignals(e *Engine) func() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	detached := make(chan struct{})

	go func() {
		select {
		case <-sig:
			if err := e.Shutdown(context.Background()); err != nil {
				log.Printf("pool: shutdown on signal: %v", err)
			}
		case <-detached:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sig)
			close(detached)
		})
	}
}

// Shutdown drains the pool: it stops the idle-eviction and usage-monitoring
// timers, detaches signal handling, terminates every pooled resource best
// effort (one failure does not stop the rest from being attempted, and is
// logged rather than returned), and finally calls Adapter.OnShutdown.
// Shutdown always completes and is idempotent; a second call is a no-op.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shuttingDown {
		e.mu.Unlock()
		return nil
	}
	e.shuttingDown = true
	watcherCancel := e.watcherCancel
	monitorCancel := e.monitorCancel
	snapshot := append([]*Handle(nil), e.resources...)
	e.mu.Unlock()

	if watcherCancel != nil {
		watcherCancel()
	}
	if monitorCancel != nil {
		monitorCancel()
	}
	if e.detachSignals != nil {
		e.detachSignals()
	}

	for _, h := range snapshot {
		tctx, cancel := context.WithTimeout(ctx, e.opts.ShutdownTimeout)
		err := e.adapter.Terminate(tctx, h)
		cancel()
		if err != nil {
			log.Print(newErr(TerminationTimeout, h.Name, h.Port, err))
		}

		e.mu.Lock()
		e.removeByNameLocked(h.Name)
		e.mu.Unlock()
	}

	e.adapter.OnShutdown()
	return nil
}
