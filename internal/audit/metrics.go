package audit

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clipguard_audit_events_total",
			Help: "Audit events logged, by outcome or violation kind.",
		},
		[]string{"kind"},
	)

	bufferSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "clipguard_audit_buffer_size",
			Help: "Audit events waiting to be flushed to the durable store.",
		},
	)

	alertsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clipguard_audit_alerts_dropped_total",
			Help: "Alerts discarded because the alert queue was full.",
		},
	)
)

func init() {
	prometheus.MustRegister(eventsTotal, bufferSize, alertsDropped)
}

func eventKind(success bool, violation string) string {
	switch {
	case violation != "":
		return violation
	case success:
		return "success"
	default:
		return "failure"
	}
}
