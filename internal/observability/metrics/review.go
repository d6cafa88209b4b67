// Package metrics provides custom Prometheus metrics for the QA review service.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// ReviewMetrics contains all Prometheus metrics related to the review engine.
type ReviewMetrics struct {
	ReviewsCreated     prometheus.Counter
	DecisionsSubmitted *prometheus.CounterVec
	Transitions        *prometheus.CounterVec
	Preapprovals       prometheus.Counter
	VersionConflicts   prometheus.Counter
	registry           *prometheus.Registry
}

// NewReviewMetrics creates a new instance of ReviewMetrics.
// It requires a Prometheus registry to register the metrics.
func NewReviewMetrics(registry *prometheus.Registry) (*ReviewMetrics, error) {
	m := &ReviewMetrics{registry: registry}
	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize review metrics: %w", err)
	}
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register review metrics: %w", err)
	}
	return m, nil
}

// initMetrics initializes all metrics for ReviewMetrics.
func (m *ReviewMetrics) initMetrics() error {
	m.ReviewsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_records_created_total",
		Help: "Total number of dataset review records created",
	})

	m.DecisionsSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_decisions_submitted_total",
		Help: "Total number of review decisions submitted, by outcome",
	}, []string{"outcome"})

	m.Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "review_state_transitions_total",
		Help: "Total number of review state transitions, by resulting state",
	}, []string{"to"})

	m.Preapprovals = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_preapprovals_total",
		Help: "Total number of pre-approval merges recorded",
	})

	m.VersionConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "review_version_conflicts_total",
		Help: "Total number of optimistic version conflicts retried by the engine",
	})

	return nil
}

// IncrementReviewsCreated increments the count of created review records.
func (m *ReviewMetrics) IncrementReviewsCreated() {
	m.ReviewsCreated.Inc()
}

// IncrementDecisionsSubmitted increments the decision counter for an outcome.
func (m *ReviewMetrics) IncrementDecisionsSubmitted(outcome string) {
	m.DecisionsSubmitted.WithLabelValues(outcome).Inc()
}

// IncrementTransitions increments the transition counter for a resulting state.
func (m *ReviewMetrics) IncrementTransitions(to string) {
	m.Transitions.WithLabelValues(to).Inc()
}

// IncrementPreapprovals increments the count of pre-approval merges.
func (m *ReviewMetrics) IncrementPreapprovals() {
	m.Preapprovals.Inc()
}

// IncrementVersionConflicts increments the count of retried version conflicts.
func (m *ReviewMetrics) IncrementVersionConflicts() {
	m.VersionConflicts.Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *ReviewMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.ReviewsCreated.Describe(ch)
	m.DecisionsSubmitted.Describe(ch)
	m.Transitions.Describe(ch)
	m.Preapprovals.Describe(ch)
	m.VersionConflicts.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *ReviewMetrics) Collect(ch chan<- prometheus.Metric) {
	m.ReviewsCreated.Collect(ch)
	m.DecisionsSubmitted.Collect(ch)
	m.Transitions.Collect(ch)
	m.Preapprovals.Collect(ch)
	m.VersionConflicts.Collect(ch)
}
