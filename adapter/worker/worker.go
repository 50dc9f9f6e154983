// Package worker implements the in-process worker pool.Adapter: a pool
// slot backed by a goroutine bound to a listener on the acquired port,
// rather than an OS process or a container. Go has no per-goroutine memory
// isolation, so no heap ceiling is enforced: HeapCeilingBytes is carried on
// the Adapter but not read, and Usage reports the process-wide heap from
// runtime.ReadMemStats.
package worker

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/serverlesspool/poolengine/pool"
)

// Handler is invoked once per accepted connection on a worker's listener.
// The default, used when Adapter.Handle is nil, just closes the connection.
type Handler func(net.Conn)

// Adapter is the worker pool.Adapter. MaxConcurrentConns bounds how many
// connections a single worker context accepts at once, gated by a
// semaphore.Weighted the same way ezworker.EzWorker gates concurrent task
// execution.
type Adapter struct {
	MaxConcurrentConns int64
	HeapCeilingBytes   uint64
	Handle             Handler
}

var _ pool.Adapter = (*Adapter)(nil)

func (a *Adapter) TypeTag() string { return "worker" }

func (a *Adapter) Validate(cfg pool.Config) error {
	return nil
}

// Create binds a TCP listener on port and starts an accept loop in its own
// goroutine, gated by a per-context semaphore. The loop runs until ctx
// (captured for the lifetime of the worker, not the creation deadline) is
// canceled via the returned Native's Cancel func.
func (a *Adapter) Create(ctx context.Context, port int, name string, cfg pool.Config) (pool.Native, error) {
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on %d: %w", port, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sem := semaphore.NewWeighted(a.concurrency())
	handle := a.Handle
	if handle == nil {
		handle = func(c net.Conn) { c.Close() }
	}

	go a.acceptLoop(runCtx, l, sem, handle, done)

	cancelAndClose := func() {
		cancel()
		l.Close()
	}

	return pool.NativeWorker{
		Cancel: cancelAndClose,
		Done:   done,
	}, nil
}

func (a *Adapter) concurrency() int64 {
	if a.MaxConcurrentConns <= 0 {
		return 16
	}
	return a.MaxConcurrentConns
}

func (a *Adapter) acceptLoop(ctx context.Context, l net.Listener, sem *semaphore.Weighted, handle Handler, done chan struct{}) {
	defer close(done)

	var wg sync.WaitGroup
	for {
		conn, err := l.Accept()
		if err != nil {
			wg.Wait()
			return
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			wg.Wait()
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			handle(conn)
		}()
	}
}

// Terminate cancels the worker's run context and closes its listener.
// Idempotent: a worker already torn down simply has nothing left to cancel.
func (a *Adapter) Terminate(ctx context.Context, h *pool.Handle) error {
	nw, ok := h.Native.(pool.NativeWorker)
	if !ok || nw.Cancel == nil {
		return nil
	}
	nw.Cancel()

	select {
	case <-nw.Done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Liveness reports whether the accept loop's Done channel has not yet
// closed. There is no remote probe to make here; it is purely local state.
func (a *Adapter) Liveness(ctx context.Context, h *pool.Handle) bool {
	nw, ok := h.Native.(pool.NativeWorker)
	if !ok {
		return false
	}
	select {
	case <-nw.Done:
		return false
	default:
		return true
	}
}

// Usage approximates per-worker memory pressure against the process-wide
// heap, since Go exposes no per-goroutine accounting. CpuPercent is left
// at zero: there is no per-goroutine CPU counter either.
func (a *Adapter) Usage(ctx context.Context, h *pool.Handle) (*pool.Usage, error) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	return &pool.Usage{
		MemoryBytes: int64(stats.HeapInuse),
		SampledAt:   time.Now().UnixMilli(),
	}, nil
}

func (a *Adapter) OnShutdown() {}
