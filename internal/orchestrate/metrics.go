package orchestrate

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records orchestration outcomes on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the orchestration collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kaiws_orchestrated_runs_total",
			Help: "Project runs started by the orchestrator, by target and result.",
		}, []string{"target", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kaiws_orchestrated_run_duration_seconds",
			Help:    "Wall time of a single project run.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"target"}),
	}
	m.registry.MustRegister(m.runs, m.duration)
	return m
}

func (m *Metrics) observe(target string, res Result) {
	result := "success"
	if res.Failed() {
		result = "failure"
	}
	m.runs.WithLabelValues(target, result).Inc()
	m.duration.WithLabelValues(target).Observe(res.Duration.Seconds())
}

// WriteTextfile writes the metrics in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
