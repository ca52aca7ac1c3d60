package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PipelineMetrics records job pipeline outcomes and credit movements.
type PipelineMetrics struct {
	jobs     *prometheus.CounterVec
	credits  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	if reg == nil {
		return &PipelineMetrics{}
	}
	jobs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_finished_total",
		Help:      "Jobs reaching a terminal state.",
	}, []string{"status", "class"})
	credits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credits_total",
		Help:      "Credits moved by the ledger, by movement.",
	}, []string{"movement"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_stage_duration_seconds",
		Help:      "Duration of individual pipeline stages.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})
	reg.MustRegister(jobs, credits, duration)
	return &PipelineMetrics{jobs: jobs, credits: credits, duration: duration}
}

func (m *PipelineMetrics) IncFinished(status, class string) {
	if m == nil || m.jobs == nil {
		return
	}
	m.jobs.WithLabelValues(normalizeLabel(status), class).Inc()
}

// AddCredits records a reserve, consume or release movement.
func (m *PipelineMetrics) AddCredits(movement string, amount int) {
	if m == nil || m.credits == nil || amount <= 0 {
		return
	}
	m.credits.WithLabelValues(normalizeLabel(movement)).Add(float64(amount))
}

func (m *PipelineMetrics) ObserveStage(stage string, elapsed time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(stage)).Observe(elapsed.Seconds())
}
