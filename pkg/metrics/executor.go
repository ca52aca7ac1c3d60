package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecutorMetrics records outbound call outcomes from the resilient executor.
type ExecutorMetrics struct {
	calls     *prometheus.CounterVec
	retries   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func NewExecutorMetrics(reg prometheus.Registerer) *ExecutorMetrics {
	if reg == nil {
		return &ExecutorMetrics{}
	}
	calls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_calls_total",
		Help:      "Outbound calls by operation and final outcome.",
	}, []string{"operation", "outcome", "class"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_retries_total",
		Help:      "Retries scheduled by operation and error class.",
	}, []string{"operation", "class"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "executor_fallbacks_total",
		Help:      "Fallback invocations by operation and source.",
	}, []string{"operation", "source"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "executor_call_duration_seconds",
		Help:      "Wall clock of an executed call including retries.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"operation"})
	reg.MustRegister(calls, retries, fallbacks, duration)
	return &ExecutorMetrics{
		calls:     calls,
		retries:   retries,
		fallbacks: fallbacks,
		duration:  duration,
	}
}

// ObserveCall records the final outcome of a call. class is empty on success.
func (m *ExecutorMetrics) ObserveCall(operation, outcome, class string, elapsed time.Duration) {
	if m == nil || m.calls == nil {
		return
	}
	op := normalizeLabel(operation)
	m.calls.WithLabelValues(op, outcome, class).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *ExecutorMetrics) IncRetry(operation, class string) {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.WithLabelValues(normalizeLabel(operation), normalizeLabel(class)).Inc()
}

func (m *ExecutorMetrics) IncFallback(operation, source string) {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.WithLabelValues(normalizeLabel(operation), normalizeLabel(source)).Inc()
}
