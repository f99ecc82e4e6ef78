package webhook

import "github.com/prometheus/client_golang/prometheus"

var verifications = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "clipguard_webhook_verifications_total",
		Help: "Webhook verification outcomes, by auth mode or rejection.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(verifications)
}
