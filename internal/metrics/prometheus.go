package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every method is a no-op
// then, which keeps tests free of registry wiring.
type Metrics struct {
	ConnectionsTotal  prometheus.Gauge
	ConnectionsByRoom *prometheus.GaugeVec
	OnlineUsers       prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	MessagesSent      prometheus.Counter
	MessagesDropped   prometheus.Counter
	MessageLatency    prometheus.Histogram
	TestsCompleted    *prometheus.CounterVec
	LeaderboardBuilds *prometheus.CounterVec
	KafkaMessages     *prometheus.CounterVec
	RedisOperations   *prometheus.CounterVec
	AuthFailures      prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ConnectionsTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "ws_connections_total",
			Help: "Total number of active WebSocket connections",
		}),
		ConnectionsByRoom: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ws_connections_by_room",
			Help: "Number of room memberships per room type",
		}, []string{"room_type"}),
		OnlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "typesprint_presence_entries",
			Help: "Presence entries held by this instance",
		}),
		MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ws_messages_received_total",
			Help: "Total number of messages received from clients",
		}, []string{"type"}),
		MessagesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "ws_messages_sent_total",
			Help: "Total number of messages queued to clients",
		}),
		MessagesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ws_messages_dropped_total",
			Help: "Messages dropped because a client send buffer was full",
		}),
		MessageLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ws_message_latency_seconds",
			Help:    "Message processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		TestsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "typesprint_tests_completed_total",
			Help: "Finished typing tests by persistence outcome",
		}, []string{"status"}),
		LeaderboardBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "typesprint_leaderboard_builds_total",
			Help: "Leaderboard snapshots by source",
		}, []string{"source"}),
		KafkaMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_processed_total",
			Help: "Total number of Kafka messages processed",
		}, []string{"topic", "status"}),
		RedisOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		}, []string{"operation", "status"}),
		AuthFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "ws_auth_failures_total",
			Help: "Total number of authentication failures",
		}),
	}
}

func (m *Metrics) IncConnections() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

func (m *Metrics) DecConnections() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Dec()
}

func (m *Metrics) IncRoomConnections(roomType string) {
	if m == nil {
		return
	}
	m.ConnectionsByRoom.WithLabelValues(roomType).Inc()
}

func (m *Metrics) DecRoomConnections(roomType string) {
	if m == nil {
		return
	}
	m.ConnectionsByRoom.WithLabelValues(roomType).Dec()
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) IncMessagesReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

func (m *Metrics) IncMessagesSent() {
	if m == nil {
		return
	}
	m.MessagesSent.Inc()
}

func (m *Metrics) IncMessagesDropped() {
	if m == nil {
		return
	}
	m.MessagesDropped.Inc()
}

func (m *Metrics) ObserveLatency(seconds float64) {
	if m == nil {
		return
	}
	m.MessageLatency.Observe(seconds)
}

func (m *Metrics) IncTestsCompleted(status string) {
	if m == nil {
		return
	}
	m.TestsCompleted.WithLabelValues(status).Inc()
}

func (m *Metrics) IncLeaderboardBuild(source string) {
	if m == nil {
		return
	}
	m.LeaderboardBuilds.WithLabelValues(source).Inc()
}

func (m *Metrics) IncKafkaMessage(topic, status string) {
	if m == nil {
		return
	}
	m.KafkaMessages.WithLabelValues(topic, status).Inc()
}

func (m *Metrics) IncRedisOperation(operation, status string) {
	if m == nil {
		return
	}
	m.RedisOperations.WithLabelValues(operation, status).Inc()
}

func (m *Metrics) IncAuthFailures() {
	if m == nil {
		return
	}
	m.AuthFailures.Inc()
}
