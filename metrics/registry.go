// Package metrics exposes a per-manager Prometheus counter/gauge set in the
// standard Prometheus line-based text exposition format: one manager, one
// resource type, six monotone counters and a size gauge, each labeled
// `resource_type` and `manager`.
//
// Each Registry wires its own private prometheus.Registry instead of
// registering against prometheus.DefaultRegisterer, so that multiple
// managers in one process never collide on metric names.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

const namespace = "serverless_manager"
const subsystem = "pool"

// Registry is the counter/gauge set for a single manager instance.
type Registry struct {
	requests  prometheus.Counter
	hits      prometheus.Counter
	misses    prometheus.Counter
	additions prometheus.Counter
	evictions prometheus.Counter
	removals  prometheus.Counter
	size      prometheus.Gauge

	reg *prometheus.Registry
}

// New builds a Registry labeled with the given resource type tag
// ("worker"/"process"/"container"/"pod") and manager name.
func New(resourceType, managerName string) *Registry {
	labels := prometheus.Labels{
		"resource_type": resourceType,
		"manager":       managerName,
	}

	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	r := &Registry{
		requests:  counter("requests_total", "Total resource acquisition attempts."),
		hits:      counter("hits_total", "Acquisitions that admitted a new member or selected one from a non-empty pool."),
		misses:    counter("misses_total", "Acquisitions that found an empty pool."),
		additions: counter("additions_total", "Resources successfully admitted to the pool."),
		evictions: counter("evictions_total", "Resources removed by the idle-eviction timer."),
		removals:  counter("removals_total", "Resources removed from the pool for reasons other than idle eviction (failed liveness probe, health check, shutdown)."),
		size: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   subsystem,
			Name:        "size",
			Help:        "Current number of resources held in the pool.",
			ConstLabels: labels,
		}),
		reg: prometheus.NewRegistry(),
	}

	r.reg.MustRegister(r.requests, r.hits, r.misses, r.additions, r.evictions, r.removals, r.size)
	return r
}

func (r *Registry) IncRequests()  { r.requests.Inc() }
func (r *Registry) IncHits()      { r.hits.Inc() }
func (r *Registry) IncMisses()    { r.misses.Inc() }
func (r *Registry) IncAdditions() { r.additions.Inc() }
func (r *Registry) IncEvictions() { r.evictions.Inc() }
func (r *Registry) IncRemovals()  { r.removals.Inc() }
func (r *Registry) SetSize(n int) { r.size.Set(float64(n)) }

// Text renders the current values in the Prometheus text exposition
// format: `# HELP ...` / `# TYPE ...` / labeled sample lines per metric.
func (r *Registry) Text() (string, error) {
	families, err := r.reg.Gather()
	if err != nil {
		return "", err
	}

	var buf strings.Builder
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
