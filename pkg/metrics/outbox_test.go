package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestOutboxMetricsCountsPerTopic(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublished("orders", "order_created")
	m.IncPublished("orders", "order_created")
	m.IncFailed("catalog", "product_deleted")
	m.IncDeadLetter("product_deleted", "max_attempts")
	m.IncDuplicate("", "order_created")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_published_total", "topic", "orders"); err != nil || got != 2 {
		t.Fatalf("expected published=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_publish_failures_total", "topic", "catalog"); err != nil || got != 1 {
		t.Fatalf("expected failures=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_dead_lettered_total", "reason", "max_attempts"); err != nil || got != 1 {
		t.Fatalf("expected dead letters=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "outbox_duplicates_suppressed_total", "topic", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected duplicates=1, got %f (%v)", got, err)
	}
}

func TestNilOutboxMetricsAreNoops(t *testing.T) {
	var m *OutboxMetrics
	m.IncPublished("orders", "order_created")
	NewOutboxMetrics(nil).IncFailed("orders", "order_created")
}
