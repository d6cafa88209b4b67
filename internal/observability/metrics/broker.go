package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// BrokerMetrics contains Prometheus metrics for the external MQTT bridge.
type BrokerMetrics struct {
	ConnectionStatus  prometheus.Gauge
	MessagesDelivered prometheus.Counter
	Errors            prometheus.Counter
	ReconnectAttempts prometheus.Counter
	PublishLatency    prometheus.Histogram
	registry          *prometheus.Registry
}

// NewBrokerMetrics creates a new instance of BrokerMetrics.
func NewBrokerMetrics(registry *prometheus.Registry) (*BrokerMetrics, error) {
	m := &BrokerMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize broker metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register broker metrics: %w", err)
	}
	return m, nil
}

func (m *BrokerMetrics) initMetrics() error {
	m.ConnectionStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "broker_connection_status",
		Help: "Current broker connection status (1 for connected, 0 for disconnected)",
	})

	m.MessagesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_messages_delivered_total",
		Help: "Total number of messages successfully delivered to the external broker",
	})

	m.Errors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_errors_total",
		Help: "Total number of broker errors encountered",
	})

	m.ReconnectAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "broker_reconnect_attempts_total",
		Help: "Total number of broker reconnection attempts",
	})

	m.PublishLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "broker_publish_latency_seconds",
		Help:    "Latency of broker publish operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
	})

	return nil
}

// UpdateConnectionStatus updates the broker connection status gauge.
func (m *BrokerMetrics) UpdateConnectionStatus(connected bool) {
	if connected {
		m.ConnectionStatus.Set(1)
	} else {
		m.ConnectionStatus.Set(0)
	}
}

// IncrementMessagesDelivered increments the delivered message counter.
func (m *BrokerMetrics) IncrementMessagesDelivered() {
	m.MessagesDelivered.Inc()
}

// IncrementErrors increments the broker error counter.
func (m *BrokerMetrics) IncrementErrors() {
	m.Errors.Inc()
}

// IncrementReconnectAttempts increments the reconnect attempt counter.
func (m *BrokerMetrics) IncrementReconnectAttempts() {
	m.ReconnectAttempts.Inc()
}

// ObservePublishDuration records the duration of a publish operation.
func (m *BrokerMetrics) ObservePublishDuration(d time.Duration) {
	m.PublishLatency.Observe(d.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *BrokerMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ConnectionStatus.Describe(ch)
	m.MessagesDelivered.Describe(ch)
	m.Errors.Describe(ch)
	m.ReconnectAttempts.Describe(ch)
	m.PublishLatency.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *BrokerMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ConnectionStatus.Collect(ch)
	m.MessagesDelivered.Collect(ch)
	m.Errors.Collect(ch)
	m.ReconnectAttempts.Collect(ch)
	m.PublishLatency.Collect(ch)
}
