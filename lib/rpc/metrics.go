package rpc

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts gateway calls.
type Metrics struct {
	calls  *prometheus.CounterVec
	hits   *prometheus.CounterVec
	errors *prometheus.CounterVec
}

// NewMetrics registers the gateway counters in reg. A nil reg keeps them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainkit",
			Subsystem: "rpc",
			Name:      "calls_total",
			Help:      "RPC calls executed by daemon and result.",
		}, []string{"daemon", "result"}),
		hits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainkit",
			Subsystem: "rpc",
			Name:      "cache_hits_total",
			Help:      "RPC responses served from the cache.",
		}, []string{"daemon"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chainkit",
			Subsystem: "rpc",
			Name:      "errors_total",
			Help:      "Classified RPC failures.",
		}, []string{"service", "command"}),
	}

	if reg != nil {
		reg.MustRegister(m.calls, m.hits, m.errors)
	}

	return m
}

func (m *Metrics) call(daemon string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	m.calls.WithLabelValues(daemon, result).Inc()
}

func (m *Metrics) hit(daemon string) {
	m.hits.WithLabelValues(daemon).Inc()
}

func (m *Metrics) failure(c Classification) {
	m.errors.WithLabelValues(c.Service, c.Command).Inc()
}
