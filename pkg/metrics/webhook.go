package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebhookMetrics counts deliveries seen by the webhook receiver.
type WebhookMetrics struct {
	received          *prometheus.CounterVec
	signatureFailures prometheus.Counter
	malformed         prometheus.Counter
}

// NewWebhookMetrics registers the receiver metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	received := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_deliveries_total",
		Help: "Accepted webhook deliveries by result.",
	}, []string{"result"})
	signatureFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_signature_failures_total",
		Help: "Webhook deliveries rejected for a bad signature.",
	})
	malformed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webhook_malformed_total",
		Help: "Webhook deliveries rejected as malformed.",
	})
	reg.MustRegister(received, signatureFailures, malformed)
	return &WebhookMetrics{
		received:          received,
		signatureFailures: signatureFailures,
		malformed:         malformed,
	}
}

// IncDelivery counts an accepted delivery (accepted or ignored_duplicate).
func (m *WebhookMetrics) IncDelivery(result string) {
	if m == nil || m.received == nil {
		return
	}
	m.received.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *WebhookMetrics) IncSignatureFailure() {
	if m == nil || m.signatureFailures == nil {
		return
	}
	m.signatureFailures.Inc()
}

func (m *WebhookMetrics) IncMalformed() {
	if m == nil || m.malformed == nil {
		return
	}
	m.malformed.Inc()
}
