package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Message outcomes recorded by Metrics.
const (
	outcomeDelivered = "delivered"
	outcomeBuffered  = "buffered"
	outcomeRejected  = "rejected"
	outcomeReplayed  = "replayed"
)

// MetricsConfig configures relay metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "walletconnect").
	Namespace string
	// Subsystem is the metrics subsystem (default: "relay").
	Subsystem string
	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Metrics holds the relay's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	connections   prometheus.Gauge
	subscriptions prometheus.Gauge
	messages      *prometheus.CounterVec
	evictions     prometheus.Counter
	slowConsumers prometheus.Counter
}

// NewMetrics registers the relay collectors with config.Registry.
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "walletconnect"
	}
	if config.Subsystem == "" {
		config.Subsystem = "relay"
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "connections",
			Help:      "Currently connected relay clients",
		}),
		subscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "subscriptions",
			Help:      "Current (connection, topic) subscriptions",
		}),
		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "messages_total",
			Help:      "Relay messages by outcome",
		}, []string{"outcome"}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "backlog_evictions_total",
			Help:      "Buffered messages dropped to keep the backlog bounded",
		}),
		slowConsumers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "slow_consumer_disconnects_total",
			Help:      "Connections closed because their outbound queue overflowed",
		}),
	}
}

func (m *Metrics) connAdded(delta float64) {
	if m != nil {
		m.connections.Add(delta)
	}
}

func (m *Metrics) subsAdded(delta float64) {
	if m != nil && delta != 0 {
		m.subscriptions.Add(delta)
	}
}

func (m *Metrics) message(outcome string, n int) {
	if m != nil && n > 0 {
		m.messages.WithLabelValues(outcome).Add(float64(n))
	}
}

func (m *Metrics) evicted(n int) {
	if m != nil && n > 0 {
		m.evictions.Add(float64(n))
	}
}

func (m *Metrics) slowConsumer() {
	if m != nil {
		m.slowConsumers.Inc()
	}
}
