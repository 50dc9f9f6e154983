package pool

import "context"

// Adapter plugs a specific backend (in-process worker, OS process, local
// container, remote pod) into the generic Engine. Implementations live in
// the adapter/* sub-packages.
type Adapter interface {
	// TypeTag names the adapter for metrics labels and health-check keys:
	// one of "worker", "process", "container", "pod".
	TypeTag() string

	// Validate checks that cfg carries whatever this adapter requires to
	// create a resource (e.g. a readable script path). It is called before
	// any resource is created or selected, so Validate must not block.
	Validate(cfg Config) error

	// Create provisions a new resource bound to port/name and must honor
	// ctx's deadline, leaving no orphan on timeout or cancellation.
	Create(ctx context.Context, port int, name string, cfg Config) (Native, error)

	// Terminate stops and releases h, falling back to a forceful teardown
	// if graceful termination does not complete before ctx's deadline.
	// Terminate must be idempotent: terminating an already-gone resource
	// is success, not an error.
	Terminate(ctx context.Context, h *Handle) error

	// Liveness is a cheap probe; any failure is reported as false rather
	// than as an error.
	Liveness(ctx context.Context, h *Handle) bool

	// Usage samples resource consumption. A nil result (with nil error)
	// means the adapter has nothing to report for h right now.
	Usage(ctx context.Context, h *Handle) (*Usage, error)

	// OnShutdown runs once, after the pool has been drained, for any
	// adapter-wide cleanup (e.g. killing tracked port-forwarders).
	OnShutdown()
}
