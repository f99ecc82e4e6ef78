package access

import "github.com/prometheus/client_golang/prometheus"

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipguard_access_decisions_total",
			Help: "Access decisions, by resource type, operation and outcome.",
		},
		[]string{"resource", "operation", "outcome"},
	)

	decisionCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clipguard_access_decision_cache_hits_total",
			Help: "Decisions served from the decision cache.",
		},
	)
)

func init() {
	prometheus.MustRegister(decisionsTotal, decisionCacheHits)
}

const (
	outcomeAllowed = "allowed"
	outcomeDenied  = "denied"
	outcomeError   = "error"
)

func record(rt, op, outcome string) {
	decisionsTotal.WithLabelValues(rt, op, outcome).Inc()
}
