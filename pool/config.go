package pool

import "time"

// Config carries the creation inputs an Adapter needs for one acquisition,
// independent of the Engine-level Options below. Adapters validate and
// read only the fields relevant to their backend.
type Config struct {
	ScriptDirPath string
	ScriptFiles   []string

	DefaultImageName     string
	DefaultContainerName string

	Namespace      string
	DefaultPodName string
	DefaultPodPort int

	// Extra is an adapter-specific escape hatch for fields not promoted
	// to first-class struct fields above.
	Extra map[string]string
}

// Options collects Engine-level (as opposed to per-acquire) settings.
type Options struct {
	MaxPoolSize       int
	MinPoolSize       int
	PoolCheckInterval time.Duration
	ShutdownTimeout   time.Duration
	CreationTimeout   time.Duration
	MonitorInterval   time.Duration

	// Now overrides the clock; defaults to time.Now. Exists for tests.
	Now func() time.Time

	// ManagerName labels metrics (`manager="<ManagerName>"`).
	ManagerName string

	// CreationRate and CreationBurst throttle pre-warm and post-eviction
	// replenishment creation bursts.
	CreationRate  float64
	CreationBurst int

	// PreWarmConfig, when set, is passed to Create during pre-warming and
	// replenishment instead of a zero Config.
	PreWarmConfig *Config
}

// Option mutates Options via the functional-options pattern.
type Option func(*Options)

func WithMaxPoolSize(n int) Option {
	return func(o *Options) { o.MaxPoolSize = n }
}

func WithMinPoolSize(n int) Option {
	return func(o *Options) { o.MinPoolSize = n }
}

func WithPoolCheckInterval(d time.Duration) Option {
	return func(o *Options) { o.PoolCheckInterval = d }
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Options) { o.ShutdownTimeout = d }
}

func WithCreationTimeout(d time.Duration) Option {
	return func(o *Options) { o.CreationTimeout = d }
}

func WithMonitorInterval(d time.Duration) Option {
	return func(o *Options) { o.MonitorInterval = d }
}

func WithNow(now func() time.Time) Option {
	return func(o *Options) { o.Now = now }
}

func WithManagerName(name string) Option {
	return func(o *Options) { o.ManagerName = name }
}

func WithCreationRate(perSecond float64, burst int) Option {
	return func(o *Options) { o.CreationRate = perSecond; o.CreationBurst = burst }
}

func WithPreWarmConfig(cfg Config) Option {
	return func(o *Options) { o.PreWarmConfig = &cfg }
}

func defaultOptions() Options {
	return Options{
		MaxPoolSize:       3,
		MinPoolSize:       0,
		PoolCheckInterval: 10 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		CreationTimeout:   30 * time.Second,
		MonitorInterval:   5 * time.Second,
		Now:               time.Now,
		ManagerName:       "default",
		CreationRate:      2,
		CreationBurst:     1,
	}
}
