package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second Register should tolerate duplicates: %v", err)
	}
}

func TestObservers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatal(err)
	}

	ObserveTriage(25*time.Millisecond, OutcomeSuccess)
	ObserveTriage(-time.Second, OutcomeError)
	ObserveClassification("database_errors")
	ObserveClassification("")
	ObservePatchOperation("apply", true)
	ObservePatchOperation("rollback", false)
	ObserveIncidentStored(3)
	ObserveIncidentSuppressed()
	SetStoreSize(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected gathered metric families")
	}
}
