package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// BusMetrics contains all Prometheus metrics related to the event channel.
type BusMetrics struct {
	Published     *prometheus.CounterVec
	Processed     *prometheus.CounterVec
	Redelivered   *prometheus.CounterVec
	DeadLettered  *prometheus.CounterVec
	Dropped       *prometheus.CounterVec
	HandlerErrors *prometheus.CounterVec
	registry      *prometheus.Registry
}

// NewBusMetrics creates a new instance of BusMetrics.
func NewBusMetrics(registry *prometheus.Registry) (*BusMetrics, error) {
	m := &BusMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize bus metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register bus metrics: %w", err)
	}
	return m, nil
}

func (m *BusMetrics) initMetrics() error {
	m.Published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_published_total",
		Help: "Total number of messages published, by topic",
	}, []string{"topic"})

	m.Processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_processed_total",
		Help: "Total number of messages successfully processed, by queue",
	}, []string{"queue"})

	m.Redelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_redelivered_total",
		Help: "Total number of message redeliveries after handler failure, by queue",
	}, []string{"queue"})

	m.DeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_dead_lettered_total",
		Help: "Total number of messages dead-lettered after exhausting attempts, by queue",
	}, []string{"queue"})

	m.Dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_dropped_total",
		Help: "Total number of messages dropped on full queue buffers, by queue",
	}, []string{"queue"})

	m.HandlerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_handler_errors_total",
		Help: "Total number of handler errors, by queue",
	}, []string{"queue"})

	return nil
}

// IncrementPublished increments the publish counter for a topic.
func (m *BusMetrics) IncrementPublished(topic string) {
	m.Published.WithLabelValues(topic).Inc()
}

// IncrementProcessed increments the processed counter for a queue.
func (m *BusMetrics) IncrementProcessed(queue string) {
	m.Processed.WithLabelValues(queue).Inc()
}

// IncrementRedelivered increments the redelivery counter for a queue.
func (m *BusMetrics) IncrementRedelivered(queue string) {
	m.Redelivered.WithLabelValues(queue).Inc()
}

// IncrementDeadLettered increments the dead-letter counter for a queue.
func (m *BusMetrics) IncrementDeadLettered(queue string) {
	m.DeadLettered.WithLabelValues(queue).Inc()
}

// IncrementDropped increments the dropped counter for a queue.
func (m *BusMetrics) IncrementDropped(queue string) {
	m.Dropped.WithLabelValues(queue).Inc()
}

// IncrementHandlerErrors increments the handler error counter for a queue.
func (m *BusMetrics) IncrementHandlerErrors(queue string) {
	m.HandlerErrors.WithLabelValues(queue).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *BusMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.Published.Describe(ch)
	m.Processed.Describe(ch)
	m.Redelivered.Describe(ch)
	m.DeadLettered.Describe(ch)
	m.Dropped.Describe(ch)
	m.HandlerErrors.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *BusMetrics) Collect(ch chan<- prometheus.Metric) {
	m.Published.Collect(ch)
	m.Processed.Collect(ch)
	m.Redelivered.Collect(ch)
	m.DeadLettered.Collect(ch)
	m.Dropped.Collect(ch)
	m.HandlerErrors.Collect(ch)
}
