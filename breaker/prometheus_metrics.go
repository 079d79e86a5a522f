package breaker

import "github.com/prometheus/client_golang/prometheus"

// PrometheusMetrics is the default MetricsCollector, exporting breaker
// lifecycle counters for scraping.
type PrometheusMetrics struct {
	success    *prometheus.CounterVec
	failure    *prometheus.CounterVec
	rejection  *prometheus.CounterVec
	transitions *prometheus.CounterVec
}

// NewPrometheusMetrics registers breaker counters with reg. Pass
// prometheus.DefaultRegisterer for process-global metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		success: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ymera_breaker_success_total",
			Help: "Successful calls admitted by a circuit breaker.",
		}, []string{"name"}),
		failure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ymera_breaker_failure_total",
			Help: "Classified failures observed by a circuit breaker.",
		}, []string{"name"}),
		rejection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ymera_breaker_rejected_total",
			Help: "Calls rejected because a circuit breaker was open.",
		}, []string{"name"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ymera_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"name", "from", "to"}),
	}
	reg.MustRegister(m.success, m.failure, m.rejection, m.transitions)
	return m
}

func (m *PrometheusMetrics) RecordSuccess(name string) { m.success.WithLabelValues(name).Inc() }
func (m *PrometheusMetrics) RecordFailure(name string) { m.failure.WithLabelValues(name).Inc() }
func (m *PrometheusMetrics) RecordRejection(name string) { m.rejection.WithLabelValues(name).Inc() }

func (m *PrometheusMetrics) RecordStateChange(name string, from, to State) {
	m.transitions.WithLabelValues(name, from.String(), to.String()).Inc()
}
