package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates Prometheus instrumentation for the engine. All methods
// are safe on a nil receiver, so instrumentation is strictly opt-in:
//
//	metrics := flow.NewMetrics(prometheus.DefaultRegisterer)
//	runner, err := flow.NewRunner(graph, st, flow.Options{Metrics: metrics})
type Metrics struct {
	stepsTotal       *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	runsActive       prometheus.Gauge
	runsSuspended    prometheus.Gauge
	checkpointsTotal prometheus.Counter
	interruptsTotal  *prometheus.CounterVec
	replaysTotal     prometheus.Counter
}

// NewMetrics creates and registers the engine's collectors. Pass nil to skip
// registration (useful in tests that only need the observe methods).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealgraph",
			Name:      "steps_total",
			Help:      "Step invocations by step name and result.",
		}, []string{"step", "result"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dealgraph",
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of step invocations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"step"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dealgraph",
			Name:      "runs_active",
			Help:      "Runs currently executing in the scheduler.",
		}),
		runsSuspended: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dealgraph",
			Name:      "runs_suspended",
			Help:      "Runs parked on a pending interrupt token.",
		}),
		checkpointsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dealgraph",
			Name:      "checkpoints_total",
			Help:      "Checkpoints appended across all runs.",
		}),
		interruptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dealgraph",
			Name:      "interrupts_total",
			Help:      "Interrupt token operations by kind (suspend, resume).",
		}, []string{"op"}),
		replaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dealgraph",
			Name:      "replays_total",
			Help:      "Replay branches created from historical checkpoints.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.stepsTotal,
			m.stepDuration,
			m.runsActive,
			m.runsSuspended,
			m.checkpointsTotal,
			m.interruptsTotal,
			m.replaysTotal,
		)
	}
	return m
}

func (m *Metrics) observeStep(step, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(step, result).Inc()
	m.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

func (m *Metrics) runStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

func (m *Metrics) runStopped() {
	if m == nil {
		return
	}
	m.runsActive.Dec()
}

func (m *Metrics) suspended() {
	if m == nil {
		return
	}
	m.runsSuspended.Inc()
	m.interruptsTotal.WithLabelValues("suspend").Inc()
}

func (m *Metrics) resumed() {
	if m == nil {
		return
	}
	m.runsSuspended.Dec()
	m.interruptsTotal.WithLabelValues("resume").Inc()
}

func (m *Metrics) checkpointed() {
	if m == nil {
		return
	}
	m.checkpointsTotal.Inc()
}

func (m *Metrics) replayed() {
	if m == nil {
		return
	}
	m.replaysTotal.Inc()
}
