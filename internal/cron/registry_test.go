package cron

import (
	"context"
	"testing"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryStoresEntries(t *testing.T) {
	registry := NewRegistry()
	jobA := &stubJob{name: "a"}
	jobB := &stubJob{name: "b"}
	registry.Register("@every 1m", jobA)
	registry.Register("@daily", jobB)
	registry.Register("@daily", nil)
	entries := registry.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Job != jobA || entries[1].Job != jobB {
		t.Fatalf("entries returned out of order")
	}
	if entries[1].Schedule != "@daily" {
		t.Fatalf("unexpected schedule %q", entries[1].Schedule)
	}
	entries[0].Job = nil
	if registry.Entries()[0].Job == nil {
		t.Fatalf("internal slice leaked")
	}
}
