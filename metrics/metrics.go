// Package metrics exports Prometheus collectors for the scheduler and the
// region pool. A nil *Metrics is valid and records nothing.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wippyai/wasm-sandbox/region"
	"github.com/wippyai/wasm-sandbox/runtime"
)

const namespace = "sandbox"

// Metrics holds the sandbox collectors.
type Metrics struct {
	// Scheduler metrics
	Runs        *prometheus.CounterVec
	Outcomes    *prometheus.CounterVec
	RunDuration prometheus.Histogram
	HostCalls   *prometheus.CounterVec
	Batches     *prometheus.CounterVec

	// Region pool metrics
	RegionsAcquired *prometheus.CounterVec
	RegionsReleased prometheus.Counter
	RegionsLive     prometheus.Gauge

	snapshot counters
}

type counters struct {
	runs      atomic.Uint64
	returned  atomic.Uint64
	trapped   atomic.Uint64
	hostCalls atomic.Uint64
	failures  atomic.Uint64
	nanos     atomic.Int64
}

// Snapshot holds running totals for display.
type Snapshot struct {
	Runs         uint64
	Returned     uint64
	Trapped      uint64
	HostCalls    uint64
	HostFailures uint64
	RunTime      time.Duration
}

var _ region.Observer = (*Metrics)(nil)

// New registers the collectors with reg. A nil reg uses a private registry,
// which keeps repeated construction in tests from colliding.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		Runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Instances driven to a terminal outcome",
			},
			[]string{"mode"},
		),
		Outcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Terminal outcomes by kind and trap code",
			},
			[]string{"kind", "code"},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Time from run to terminal outcome, host calls included",
				Buckets:   []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
		),
		HostCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "host_calls_total",
				Help:      "Host calls dispatched by function and status",
			},
			[]string{"function", "status"},
		),
		Batches: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Scheduler batches by mode",
			},
			[]string{"mode"},
		),
		RegionsAcquired: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regions_acquired_total",
				Help:      "Region acquisitions, split by pool reuse",
			},
			[]string{"reused"},
		),
		RegionsReleased: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "regions_released_total",
				Help:      "Regions released back to the pool",
			},
		),
		RegionsLive: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "regions_live",
				Help:      "Regions currently owned by instances",
			},
		),
	}
}

// ObserveOutcome records one terminal outcome of a run in the given mode.
func (m *Metrics) ObserveOutcome(mode string, out runtime.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(mode).Inc()
	m.Outcomes.WithLabelValues(out.Kind.String(), string(out.TrapCode())).Inc()
	m.RunDuration.Observe(d.Seconds())

	m.snapshot.runs.Add(1)
	m.snapshot.nanos.Add(int64(d))
	switch out.Kind {
	case runtime.OutcomeReturned:
		m.snapshot.returned.Add(1)
	case runtime.OutcomeTrapped:
		m.snapshot.trapped.Add(1)
	}
}

// ObserveHostCall records one dispatched host call.
func (m *Metrics) ObserveHostCall(name string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		m.snapshot.failures.Add(1)
	}
	m.HostCalls.WithLabelValues(name, status).Inc()
	m.snapshot.hostCalls.Add(1)
}

// ObserveBatch records one scheduler batch.
func (m *Metrics) ObserveBatch(mode string) {
	if m == nil {
		return
	}
	m.Batches.WithLabelValues(mode).Inc()
}

// RegionAcquired implements region.Observer.
func (m *Metrics) RegionAcquired(_ int, reused bool) {
	if m == nil {
		return
	}
	label := "false"
	if reused {
		label = "true"
	}
	m.RegionsAcquired.WithLabelValues(label).Inc()
	m.RegionsLive.Inc()
}

// RegionReleased implements region.Observer.
func (m *Metrics) RegionReleased(int) {
	if m == nil {
		return
	}
	m.RegionsReleased.Inc()
	m.RegionsLive.Dec()
}

// Snapshot returns the running totals.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Runs:         m.snapshot.runs.Load(),
		Returned:     m.snapshot.returned.Load(),
		Trapped:      m.snapshot.trapped.Load(),
		HostCalls:    m.snapshot.hostCalls.Load(),
		HostFailures: m.snapshot.failures.Load(),
		RunTime:      time.Duration(m.snapshot.nanos.Load()),
	}
}
