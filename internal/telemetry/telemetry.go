// Package telemetry backs the §8 testable properties with counters and
// gauges (page allocations, heap corruption events, scheduler quanta, IRQ
// counts, net stack drops), mirroring the teacher's per-concern metric
// handle (common/telemetry.go's GCSMetricHandle) but registered against a
// plain prometheus.Registry instead of an OTel meter provider — the
// teacher's OpenCensus/OpenTelemetry exporters have no export destination
// in a hosted kernel simulation (see DESIGN.md).
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Handle is the metric facade every kernel component is constructed with.
type Handle interface {
	IncrCounter(name string, delta float64)
	SetGauge(name string, value float64)
	CounterValue(name string) float64
	GaugeValue(name string) float64
}

// Registry is the default Handle implementation, backed by a dedicated
// prometheus.Registry so kernel self-tests don't collide with the global
// default registry.
type Registry struct {
	mu       sync.Mutex
	reg      *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
	cvals    map[string]float64
	gvals    map[string]float64
}

// NewRegistry builds an empty telemetry registry.
func NewRegistry() *Registry {
	return &Registry{
		reg:      prometheus.NewRegistry(),
		counters: make(map[string]prometheus.Counter),
		gauges:   make(map[string]prometheus.Gauge),
		cvals:    make(map[string]float64),
		gvals:    make(map[string]float64),
	}
}

func (r *Registry) counter(name string) prometheus.Counter {
	if c, ok := r.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "kernel_" + name,
		Help: "kernel counter " + name,
	})
	r.reg.MustRegister(c)
	r.counters[name] = c
	return c
}

func (r *Registry) gauge(name string) prometheus.Gauge {
	if g, ok := r.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kernel_" + name,
		Help: "kernel gauge " + name,
	})
	r.reg.MustRegister(g)
	r.gauges[name] = g
	return g
}

func (r *Registry) IncrCounter(name string, delta float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counter(name).Add(delta)
	r.cvals[name] += delta
}

func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauge(name).Set(value)
	r.gvals[name] = value
}

func (r *Registry) CounterValue(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cvals[name]
}

func (r *Registry) GaugeValue(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gvals[name]
}

// Gatherer exposes the underlying prometheus registry. The shell's "stats"
// command does not use it; it reads values through Handle.CounterValue.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Noop discards everything; used by components in unit tests that don't
// care about metrics, mirroring the teacher's common/noop_metrics.go.
type Noop struct{}

func (Noop) IncrCounter(string, float64) {}
func (Noop) SetGauge(string, float64)    {}
func (Noop) CounterValue(string) float64 { return 0 }
func (Noop) GaugeValue(string) float64   { return 0 }

// Well-known metric names, one per testable property in spec §8.
const (
	MetricPageAllocs       = "pmem_alloc_total"
	MetricPageFrees        = "pmem_free_total"
	MetricHeapCorruption   = "heap_corruption_total"
	MetricSchedQuanta      = "sched_quanta_total"
	MetricIRQCount         = "irq_total"
	MetricNetDrops         = "net_drops_total"
	MetricSyscalls         = "syscalls_total"
	MetricInodesLive       = "ramfs_inodes_live"
	MetricOpenFileDescrips = "open_fds"
)
