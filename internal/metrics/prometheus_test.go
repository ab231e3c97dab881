package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.IncConnections()
	m.IncMessagesDropped()
	m.IncTestsCompleted("ok")
	m.SetOnlineUsers(3)
}

func TestCountersRegisterPerRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncConnections()
	m.IncConnections()
	m.DecConnections()
	m.IncTestsCompleted("ok")
	m.IncMessagesReceived("typing-update")

	if got := testutil.ToFloat64(m.ConnectionsTotal); got != 1 {
		t.Fatalf("connections = %v", got)
	}
	if got := testutil.ToFloat64(m.TestsCompleted.WithLabelValues("ok")); got != 1 {
		t.Fatalf("tests completed = %v", got)
	}

	// A second registry must not collide with the first.
	New(prometheus.NewRegistry())
}
