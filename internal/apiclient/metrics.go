package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
)

// promMetrics exposes request outcomes to a Prometheus registry. Each client
// gets its own collectors; a nil registerer isolates them in a throwaway
// registry so tests and short-lived clients never collide.
type promMetrics struct {
	requests *prometheus.CounterVec
	retries  prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &promMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patientcore",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by outcome.",
		}, []string{"outcome"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patientcore",
			Subsystem: "api",
			Name:      "request_retries_total",
			Help:      "Retry attempts issued for network failures.",
		}),
	}

	reg.MustRegister(m.requests, m.retries)
	return m
}

func (m *promMetrics) observe(outcome string) {
	m.requests.WithLabelValues(outcome).Inc()
}
