package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestOrchestratorMetricsObserve(t *testing.T) {
	m := Orchestrator()
	before := testutil.ToFloat64(m.operations.WithLabelValues("loans", "repay", "error"))
	m.Observe("loans", "repay", time.Second, errors.New("reverted"))
	after := testutil.ToFloat64(m.operations.WithLabelValues("loans", "repay", "error"))
	if after != before+1 {
		t.Fatalf("expected error counter to increase by one, got %v -> %v", before, after)
	}
}

func TestOrchestratorMetricsSkipAndSettlement(t *testing.T) {
	m := Orchestrator()
	m.RecordSkip("settlement", "")
	if got := testutil.ToFloat64(m.operations.WithLabelValues("settlement", "unknown", "skipped")); got < 1 {
		t.Fatalf("expected skip to be recorded under unknown label, got %v", got)
	}
	m.RecordSettlement("fees", 0.05)
	if got := testutil.ToFloat64(m.settlements.WithLabelValues("fees")); got != 0.05 {
		t.Fatalf("unexpected settlement gauge %v", got)
	}
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *OrchestratorMetrics
	m.Observe("a", "b", time.Second, nil)
	m.RecordSkip("a", "b")
	m.ObserveWait(time.Second)
	m.RecordSettlement("fees", 1)
}
