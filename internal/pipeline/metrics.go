package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "codebook"

// Metrics records pipeline activity. A nil *Metrics records nothing.
type Metrics struct {
	runs      *prometheus.CounterVec
	stages    *prometheus.CounterVec
	durations *prometheus.HistogramVec
	inFlight  prometheus.Gauge
}

// NewMetrics registers the pipeline collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs by final state",
		}, []string{"state"}),
		stages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_results_total",
			Help:      "Stage executions by outcome",
		}, []string{"stage", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock time spent in each stage",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"stage"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "pipeline",
			Name:      "in_flight",
			Help:      "Runs currently holding a slot",
		}),
	}
	reg.MustRegister(m.runs, m.stages, m.durations, m.inFlight)
	return m
}

func (m *Metrics) observeStage(stage Stage, res ProcessResult) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage.String(), res.Outcome.String()).Inc()
	if res.Outcome != OutcomeFailedToStart {
		m.durations.WithLabelValues(stage.String()).Observe(res.Duration.Seconds())
	}
}

func (m *Metrics) observeRun(state State) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) enter() {
	if m != nil {
		m.inFlight.Inc()
	}
}

func (m *Metrics) leave() {
	if m != nil {
		m.inFlight.Dec()
	}
}
