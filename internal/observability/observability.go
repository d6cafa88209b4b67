// Package observability provides metrics and monitoring capabilities for the QA review service.
package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greenledger/qagate/internal/observability/metrics"
)

// Metrics holds all the metric collectors for the application.
type Metrics struct {
	registry *prometheus.Registry
	Review   *metrics.ReviewMetrics
	Bus      *metrics.BusMetrics
	HTTP     *metrics.HTTPMetrics
	Broker   *metrics.BrokerMetrics
}

// NewMetrics creates a new instance of Metrics, initializing all metric collectors.
// It returns an error if any metric collector fails to initialize.
func NewMetrics() (*Metrics, error) {
	registry := prometheus.NewRegistry()

	reviewMetrics, err := metrics.NewReviewMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create review metrics: %w", err)
	}

	busMetrics, err := metrics.NewBusMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create bus metrics: %w", err)
	}

	httpMetrics, err := metrics.NewHTTPMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
	}

	brokerMetrics, err := metrics.NewBrokerMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create broker metrics: %w", err)
	}

	return &Metrics{
		registry: registry,
		Review:   reviewMetrics,
		Bus:      busMetrics,
		HTTP:     httpMetrics,
		Broker:   brokerMetrics,
	}, nil
}

// Handler returns an http.Handler serving the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
