// Package metrics defines the Prometheus collectors exported on /metrics.
//
// Collectors are created against an explicit registerer so tests can use a
// private registry. A nil *Metrics is valid and records nothing.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every collector the service exports.
type Metrics struct {
	ConnectedUsers    prometheus.Gauge
	MessagesTotal     *prometheus.CounterVec // labels: status (sent, delivered, read)
	MessageFailures   prometheus.Counter
	EventsThrottled   prometheus.Counter
	InteractionsTotal *prometheus.CounterVec // labels: entity_type, interaction_type
	ScoringErrors     *prometheus.CounterVec // labels: reason
	HeatmapScore      *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wayfare",
			Name:      "chat_connected_users",
			Help:      "Users with a registered realtime connection.",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfare",
			Name:      "chat_messages_total",
			Help:      "Message status transitions.",
		}, []string{"status"}),
		MessageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wayfare",
			Name:      "chat_message_failures_total",
			Help:      "Messaging operations that failed on persistence.",
		}),
		EventsThrottled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wayfare",
			Name:      "chat_events_throttled_total",
			Help:      "Inbound realtime events dropped by the rate limiter.",
		}),
		InteractionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfare",
			Name:      "scoring_interactions_total",
			Help:      "Interactions recorded by the scoring engine.",
		}, []string{"entity_type", "interaction_type"}),
		ScoringErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wayfare",
			Name:      "scoring_errors_total",
			Help:      "Rejected or failed interaction recordings.",
		}, []string{"reason"}),
		HeatmapScore: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wayfare",
			Name:      "scoring_heatmap_score",
			Help:      "Heatmap scores written after an interaction.",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}, []string{"entity_type"}),
	}

	reg.MustRegister(
		m.ConnectedUsers,
		m.MessagesTotal,
		m.MessageFailures,
		m.EventsThrottled,
		m.InteractionsTotal,
		m.ScoringErrors,
		m.HeatmapScore,
	)
	return m
}

func (m *Metrics) SetConnected(n int) {
	if m == nil {
		return
	}
	m.ConnectedUsers.Set(float64(n))
}

func (m *Metrics) MessageStatus(status string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) MessageFailed() {
	if m == nil {
		return
	}
	m.MessageFailures.Inc()
}

func (m *Metrics) Throttled() {
	if m == nil {
		return
	}
	m.EventsThrottled.Inc()
}

// Interaction records a successful interaction and the resulting score.
func (m *Metrics) Interaction(entityType, interactionType string, score int) {
	if m == nil {
		return
	}
	m.InteractionsTotal.WithLabelValues(entityType, interactionType).Inc()
	m.HeatmapScore.WithLabelValues(entityType).Observe(float64(score))
}

func (m *Metrics) ScoringError(reason string) {
	if m == nil {
		return
	}
	m.ScoringErrors.WithLabelValues(reason).Inc()
}
