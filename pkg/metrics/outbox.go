package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics counts dispatcher outcomes per topic and event type.
type OutboxMetrics struct {
	published  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	deadLetter *prometheus.CounterVec
	duplicates *prometheus.CounterVec
}

// NewOutboxMetrics registers the outbox dispatcher metrics on reg.
func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	labels := []string{"topic", "event_type"}
	m := &OutboxMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox events acknowledged by the broker.",
		}, labels),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Retryable outbox publish failures.",
		}, labels),
		deadLetter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_dead_lettered_total",
			Help: "Outbox events moved to the DLQ.",
		}, []string{"event_type", "reason"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outbox_duplicates_suppressed_total",
			Help: "Outbox events skipped because an earlier attempt already published them.",
		}, labels),
	}
	reg.MustRegister(m.published, m.failed, m.deadLetter, m.duplicates)
	return m
}

func (m *OutboxMetrics) IncPublished(topic, eventType string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(topic), normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncFailed(topic, eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(topic), normalizeLabel(eventType)).Inc()
}

func (m *OutboxMetrics) IncDeadLetter(eventType, reason string) {
	if m == nil || m.deadLetter == nil {
		return
	}
	m.deadLetter.WithLabelValues(normalizeLabel(eventType), normalizeLabel(reason)).Inc()
}

func (m *OutboxMetrics) IncDuplicate(topic, eventType string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(topic), normalizeLabel(eventType)).Inc()
}
