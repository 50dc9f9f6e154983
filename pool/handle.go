package pool

// Usage is a point-in-time resource-consumption sample for a Handle.
// CpuPercent and MemoryBytes are zero when an adapter cannot measure them.
type Usage struct {
	CpuPercent  float64
	MemoryBytes int64
	SampledAt   int64 // epoch ms
}

// Handle is the engine's record for a single pooled resource.
// Native carries the backend-specific payload; it is opaque to the engine
// and touched only by the owning Adapter.
type Handle struct {
	Name      string
	Port      int
	CreatedAt int64 // epoch ms
	LastUsed  int64 // epoch ms

	Native Native

	Usage *Usage

	// ID is set by the engine (stampNative in engine.go) for the kinds that
	// expose a separate backend identifier distinct from Name (container,
	// pod). Nil for worker/process.
	ID *string

	// Alive is a cached liveness snapshot, stamped by the engine whenever
	// it learns the liveness of a worker or process handle (at creation
	// and at every probe). Nil for container/pod, whose liveness is always
	// a fresh probe (see Projection in engine.go).
	Alive *bool
}

// Native is a tagged union over the four adapter kinds. The concrete type
// stored in Handle.Native always matches the owning Adapter's TypeTag, so
// adapter code can type-assert unconditionally instead of defending against
// payloads from a different backend.
type Native interface {
	nativeKind() string
}

// NativeWorker is the Native payload used by the worker adapter.
type NativeWorker struct {
	Cancel func()
	Done   <-chan struct{}
}

func (NativeWorker) nativeKind() string { return "worker" }

// NativeProcess is the Native payload used by the process adapter.
type NativeProcess struct {
	Pid int
}

func (NativeProcess) nativeKind() string { return "process" }

// NativeContainer is the Native payload used by the container adapter.
type NativeContainer struct {
	ContainerID string
}

func (NativeContainer) nativeKind() string { return "container" }

// NativePod is the Native payload used by the pod adapter.
type NativePod struct {
	PodName   string
	Namespace string
}

func (NativePod) nativeKind() string { return "pod" }
