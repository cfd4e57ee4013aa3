// Package metrics exposes delivery and presence counters in Prometheus form.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "textonly"

type Metrics struct {
	messagesPersisted *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	dropped           prometheus.Counter
	degraded          prometheus.Counter
	undeliverable     prometheus.Counter
	presenceChanges   *prometheus.CounterVec
	sessionsLive      prometheus.Gauge
	sessionsTotal     prometheus.Counter
	subscriptions     prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messagesPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_persisted_total",
			Help:      "Messages durably stored, by scope.",
		}, []string{"scope"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Events enqueued on live sessions, by topic kind.",
		}, []string{"topic_kind"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Buffered events evicted from full session queues.",
		}),
		degraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_degraded_total",
			Help:      "Times a session transitioned to degraded.",
		}),
		undeliverable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_skipped_total",
			Help:      "Deliveries skipped because the subscriber was closed or unknown.",
		}),
		presenceChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "presence_changes_total",
			Help:      "Applied presence transitions, by resulting status.",
		}, []string{"status"}),
		sessionsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_live_count",
			Help:      "Number of currently open delivery sessions.",
		}),
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of sessions since server start.",
		}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_live_count",
			Help:      "Number of live (connection, topic) subscriptions.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.messagesPersisted, m.deliveries, m.dropped, m.degraded, m.undeliverable,
			m.presenceChanges, m.sessionsLive, m.sessionsTotal, m.subscriptions,
		)
	}
	return m
}

func (m *Metrics) MessagePersisted(scope string) {
	if m != nil {
		m.messagesPersisted.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) Delivered(topicKind string) {
	if m != nil {
		m.deliveries.WithLabelValues(topicKind).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.dropped.Inc()
	}
}

func (m *Metrics) Degraded() {
	if m != nil {
		m.degraded.Inc()
	}
}

func (m *Metrics) Undeliverable() {
	if m != nil {
		m.undeliverable.Inc()
	}
}

func (m *Metrics) PresenceChanged(status string) {
	if m != nil {
		m.presenceChanges.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessionsLive.Inc()
		m.sessionsTotal.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessionsLive.Dec()
	}
}

// SubscriptionsDelta adjusts the live subscription gauge.
func (m *Metrics) SubscriptionsDelta(n int) {
	if m != nil && n != 0 {
		m.subscriptions.Add(float64(n))
	}
}
