package observability

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsConnections(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ConnectionOpened("human", "brokered")
	m.ConnectionOpened("human", "brokered")
	m.ConnectionOpened("agent", "brokered")
	m.ConnectionClosed("human", "brokered")
	m.ConnectionRejected("agent", "brokered", "rejected")

	if got := testutil.ToFloat64(m.ConnectionsActive.WithLabelValues("human", "brokered")); got != 1 {
		t.Errorf("active humans = %v, want 1", got)
	}
	expected := `
		# HELP chanbridge_connections_total Channel connection attempts by role, mode and outcome
		# TYPE chanbridge_connections_total counter
		chanbridge_connections_total{mode="brokered",outcome="admitted",role="agent"} 1
		chanbridge_connections_total{mode="brokered",outcome="admitted",role="human"} 2
		chanbridge_connections_total{mode="brokered",outcome="closed",role="human"} 1
		chanbridge_connections_total{mode="brokered",outcome="rejected",role="agent"} 1
	`
	if err := testutil.CollectAndCompare(m.ConnectionsTotal, strings.NewReader(expected)); err != nil {
		t.Errorf("unexpected metric value: %v", err)
	}
}

func TestMetricsFilterDropLabels(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.FilterDrop("client", "exec")
	m.FilterDrop("client", "rm -rf")
	m.FilterDrop("upstream", "")
	m.FilterDrop("client", "history")

	tests := []struct {
		direction, label string
		want             float64
	}{
		{"client", "other", 2},
		{"upstream", "invalid", 1},
		{"client", "history", 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.FilterDropped.WithLabelValues(tt.direction, tt.label)); got != tt.want {
			t.Errorf("filter dropped{%s,%s} = %v, want %v", tt.direction, tt.label, got, tt.want)
		}
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ConnectionOpened("human", "brokered")
	m.ConnectionClosed("human", "brokered")
	m.ConnectionRejected("human", "brokered", "rejected")
	m.Frame("in", "text")
	m.MessageRouted("message", "human_to_agent")
	m.FilterDrop("client", "exec")
	m.AuthAttempt("success")
	m.Error("protocol_violation")
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.Frame("in", "text")
	m.Frame("in", "text")
	m.MessageRouted("chunk", "agent_to_human")
	m.AuthAttempt("failure")
	m.Error("auth_timeout")

	if got := testutil.ToFloat64(m.FramesTotal.WithLabelValues("in", "text")); got != 2 {
		t.Errorf("frames = %v, want 2", got)
	}
	if got := testutil.CollectAndCount(m.MessagesRouted); got != 1 {
		t.Errorf("routed series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.AuthAttempts.WithLabelValues("failure")); got != 1 {
		t.Errorf("auth failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("auth_timeout")); got != 1 {
		t.Errorf("errors = %v, want 1", got)
	}
}
