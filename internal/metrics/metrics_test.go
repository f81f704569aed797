package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SetConnected(3)
	m.MessageStatus("sent")
	m.MessageStatus("sent")
	m.MessageStatus("delivered")
	m.Interaction("business", "review", 42)
	m.ScoringError("unknown_interaction")

	if got := testutil.ToFloat64(m.ConnectedUsers); got != 3 {
		t.Fatalf("connected users = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.MessagesTotal.WithLabelValues("sent")); got != 2 {
		t.Fatalf("sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.InteractionsTotal.WithLabelValues("business", "review")); got != 1 {
		t.Fatalf("interactions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ScoringErrors.WithLabelValues("unknown_interaction")); got != 1 {
		t.Fatalf("scoring errors = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.SetConnected(1)
	m.MessageStatus("read")
	m.MessageFailed()
	m.Throttled()
	m.Interaction("location", "view", 10)
	m.ScoringError("x")
}
