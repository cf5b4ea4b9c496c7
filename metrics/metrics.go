package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use through a nil pointer; every method becomes a no-op.
type Metrics struct {
	activeSessions prometheus.Gauge
	onlineUsers    prometheus.Gauge
	messagesSent   prometheus.Counter
	reactions      *prometheus.CounterVec
	fanoutDropped  prometheus.Counter
	rateLimited    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "sessions_active",
			Help:      "Live websocket sessions.",
		}),
		onlineUsers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat",
			Name:      "users_online",
			Help:      "Users with at least one heartbeating session.",
		}),
		messagesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "messages_sent_total",
			Help:      "Messages persisted and fanned out.",
		}),
		reactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "reaction_toggles_total",
			Help:      "Reaction toggles by direction.",
		}, []string{"direction"}),
		fanoutDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "fanout_dropped_total",
			Help:      "Events dropped because a session queue was full.",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: "chat",
			Name:      "rate_limited_total",
			Help:      "Real-time invocations rejected by the rate limiter.",
		}),
	}
}

func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.onlineUsers.Set(float64(n))
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.messagesSent.Inc()
	}
}

func (m *Metrics) ReactionToggled(added bool) {
	if m == nil {
		return
	}
	if added {
		m.reactions.WithLabelValues("add").Inc()
	} else {
		m.reactions.WithLabelValues("remove").Inc()
	}
}

func (m *Metrics) FanoutDropped() {
	if m != nil {
		m.fanoutDropped.Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.rateLimited.Inc()
	}
}
