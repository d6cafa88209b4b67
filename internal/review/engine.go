package review

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greenledger/qagate/internal/errors"
	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/observability/metrics"
)

// TransitionEvent describes one committed state transition.
type TransitionEvent struct {
	Review    *DatasetReview // committed snapshot after the transition
	From      Status
	To        Status
	Timestamp time.Time
}

// TransitionListener receives in-process notifications for committed
// transitions. Listeners run only after the new state is durably stored.
type TransitionListener interface {
	Name() string
	HandleTransition(ctx context.Context, ev TransitionEvent) error
}

// Engine owns the review state machine. It is the single writer of the store:
// every mutation clones the latest snapshot, merges into the clone, validates,
// and commits it under an optimistic version check.
type Engine struct {
	store   Store
	locks   *keyLock
	metrics *metrics.ReviewMetrics
	logger  *slog.Logger

	conflictRetries int

	mu        sync.Mutex
	listeners []TransitionListener
}

// Option is a functional option for configuring the Engine.
type Option func(*Engine)

// WithConflictRetries sets how often a merge is retried on version conflicts.
func WithConflictRetries(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.conflictRetries = n
		}
	}
}

// WithLogger overrides the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a review engine on top of a store. reviewMetrics may be nil.
func NewEngine(store Store, reviewMetrics *metrics.ReviewMetrics, opts ...Option) *Engine {
	e := &Engine{
		store:           store,
		locks:           newKeyLock(),
		metrics:         reviewMetrics,
		logger:          logging.ForService("review"),
		conflictRetries: 5,
	}
	if e.logger == nil {
		e.logger = slog.Default().With("service", "review")
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterListener adds a transition listener.
func (e *Engine) RegisterListener(listener TransitionListener) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, existing := range e.listeners {
		if existing.Name() == listener.Name() {
			return fmt.Errorf("listener %s already registered", listener.Name())
		}
	}
	e.listeners = append(e.listeners, listener)

	e.logger.Info("registered transition listener", "listener", listener.Name())
	return nil
}

// CreateReview stores a new pending review for a freshly received dataset.
// It is idempotent on datasetID: a duplicate create returns created=false
// without side effects.
func (e *Engine) CreateReview(ctx context.Context, r *DatasetReview, actor string) (created bool, err error) {
	if r.DatasetID == "" {
		return false, errors.New(ErrMalformedDecision).
			Component("review").
			Category(errors.CategoryValidation).
			Context("reason", "empty dataset id").
			Build()
	}

	unlock := e.locks.Lock(r.DatasetID)
	defer unlock()

	now := time.Now()
	rec := r.Clone()
	rec.Status = StatusPending
	rec.ReviewerUserID = ""
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Version = 1
	rec.ensureLedgers()

	if err := e.store.Create(ctx, rec); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			e.logger.Debug("duplicate dataset review create ignored", "dataset_id", r.DatasetID)
			return false, nil
		}
		return false, e.storeError(err, "create", r.DatasetID)
	}

	if e.metrics != nil {
		e.metrics.IncrementReviewsCreated()
	}

	e.appendAudit(ctx, AuditEntry{
		DatasetID: rec.DatasetID,
		Actor:     actor,
		Action:    AuditReviewCreated,
		Status:    StatusPending,
		Timestamp: now,
	})

	e.logger.Info("dataset review created",
		"dataset_id", rec.DatasetID,
		"company_id", rec.CompanyID,
		"data_type", rec.DataType,
		"reporting_period", rec.ReportingPeriod,
		"data_points", len(rec.DataPointIDs),
		"qa_reports", len(rec.QaReportIDs),
	)
	return true, nil
}

// RecordPreapproval merges data point identifiers into the pre-approved set.
// The merge is idempotent and does not itself evaluate the transition
// predicate; callers follow up with Evaluate when desired. Identifiers not
// part of the declared content are ignored.
func (e *Engine) RecordPreapproval(ctx context.Context, datasetID string, dataPointIDs []string, source string) (*DatasetReview, error) {
	var merged []string

	result, _, err := e.mutate(ctx, datasetID, func(r *DatasetReview) (bool, error) {
		if r.Status.Terminal() {
			return false, e.finalizedError(datasetID, r.Status)
		}
		merged = merged[:0]
		for _, id := range dataPointIDs {
			if !r.ContainsDataPoint(id) {
				e.logger.Debug("ignoring pre-approval for undeclared data point",
					"dataset_id", datasetID, "data_point_id", id)
				continue
			}
			if _, ok := r.Preapproved[id]; ok {
				continue
			}
			r.Preapproved[id] = struct{}{}
			merged = append(merged, id)
		}
		return len(merged) > 0, nil
	})
	if err != nil {
		return nil, err
	}

	if len(merged) > 0 {
		if e.metrics != nil {
			e.metrics.IncrementPreapprovals()
		}
		now := time.Now()
		entries := make([]AuditEntry, 0, len(merged))
		for _, id := range merged {
			entries = append(entries, AuditEntry{
				DatasetID: datasetID,
				Actor:     source,
				Action:    AuditPreapproved,
				ItemID:    id,
				Status:    result.Status,
				Timestamp: now,
			})
		}
		e.appendAudit(ctx, entries...)
	}

	return result, nil
}

// SubmitDecision validates and applies one reviewer submission, then evaluates
// the transition rules. It fails without touching the record when the decision
// is malformed or the review is already finalized.
func (e *Engine) SubmitDecision(ctx context.Context, datasetID string, d *Decision) (*DatasetReview, error) {
	if d == nil || d.Empty() {
		return nil, errors.New(ErrMalformedDecision).
			Component("review").
			Category(errors.CategoryValidation).
			Context("reason", "decision carries no approvals or rejections").
			Build()
	}

	decisionID := d.DecisionID
	if decisionID == "" {
		decisionID = uuid.NewString()
	}

	result, from, err := e.mutate(ctx, datasetID, func(r *DatasetReview) (bool, error) {
		if r.Status.Terminal() {
			return false, e.finalizedError(datasetID, r.Status)
		}
		if err := validateDecision(r, d); err != nil {
			return false, err
		}

		for _, id := range d.Approvals {
			r.ApprovedDataPoints[id] = decisionID
		}
		for _, id := range d.CustomApprovals {
			r.ApprovedCustomDataPoints[id] = decisionID
		}
		for _, id := range d.ReportApprovals {
			r.ApprovedQaReports[id] = decisionID
		}
		for _, id := range d.Rejections {
			r.RejectedDataPoints[id] = decisionID
		}
		r.ReviewerUserID = d.ReviewerUserID

		if len(d.Rejections) > 0 {
			r.Status = StatusRejected
		} else if r.CoverageComplete() {
			r.Status = StatusAccepted
		}
		return true, nil
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.IncrementDecisionsSubmitted("error")
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.IncrementDecisionsSubmitted(string(result.Status))
	}

	e.appendDecisionAudit(ctx, result, d, decisionID)
	e.notifyTransition(ctx, result, from)

	return result, nil
}

// Evaluate re-checks the transition predicate without new input. Used after a
// pre-approval merge, and after creation for datasets that may already be
// fully covered (including the empty dataset).
func (e *Engine) Evaluate(ctx context.Context, datasetID string) (*DatasetReview, error) {
	result, from, err := e.mutate(ctx, datasetID, func(r *DatasetReview) (bool, error) {
		if r.Status != StatusPending {
			return false, nil
		}
		if !r.CoverageComplete() {
			return false, nil
		}
		r.Status = StatusAccepted
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	e.notifyTransition(ctx, result, from)
	return result, nil
}

// GetReview returns the latest committed snapshot of a review.
func (e *Engine) GetReview(ctx context.Context, datasetID string) (*DatasetReview, error) {
	r, err := e.store.Get(ctx, datasetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, e.storeError(err, "get", datasetID)
	}
	return r, nil
}

// ListByStatus returns reviews in a state, oldest first, plus the total count.
func (e *Engine) ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*DatasetReview, int64, error) {
	if !status.Valid() {
		return nil, 0, errors.Newf("unknown review status %q", status).
			Component("review").
			Category(errors.CategoryValidation).
			Build()
	}
	reviews, total, err := e.store.ListByStatus(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, e.storeError(err, "list", "")
	}
	return reviews, total, nil
}

// AuditTrail returns the audit history of a dataset's review.
func (e *Engine) AuditTrail(ctx context.Context, datasetID string) ([]AuditEntry, error) {
	if _, err := e.GetReview(ctx, datasetID); err != nil {
		return nil, err
	}
	entries, err := e.store.AuditTrail(ctx, datasetID)
	if err != nil {
		return nil, e.storeError(err, "audit", datasetID)
	}
	return entries, nil
}

// MarkStored records that the downstream storage service finalized
// persistence for an accepted dataset. Audit only, no state change.
func (e *Engine) MarkStored(ctx context.Context, datasetID, actor string) error {
	r, err := e.GetReview(ctx, datasetID)
	if err != nil {
		return err
	}
	return e.store.AppendAudit(ctx, AuditEntry{
		DatasetID: datasetID,
		Actor:     actor,
		Action:    AuditDatasetStored,
		Status:    r.Status,
		Timestamp: time.Now(),
	})
}

// MarkPublished records that the quality-assured event for an accepted
// dataset went out. The marker lets a restart replay events that were
// lost between commit and publish.
func (e *Engine) MarkPublished(ctx context.Context, datasetID, actor string) error {
	r, err := e.GetReview(ctx, datasetID)
	if err != nil {
		return err
	}
	return e.store.AppendAudit(ctx, AuditEntry{
		DatasetID: datasetID,
		Actor:     actor,
		Action:    AuditEventPublished,
		Status:    r.Status,
		Timestamp: time.Now(),
	})
}

// mutate loads the record, applies fn to a clone and commits it under the
// optimistic version check, retrying on conflicts. When fn reports no change
// the store is not touched and the loaded snapshot is returned. The returned
// from status is the pre-mutation status of the committed attempt.
func (e *Engine) mutate(ctx context.Context, datasetID string, fn func(r *DatasetReview) (bool, error)) (result *DatasetReview, from Status, err error) {
	unlock := e.locks.Lock(datasetID)
	defer unlock()

	for attempt := 0; attempt <= e.conflictRetries; attempt++ {
		snap, err := e.store.Get(ctx, datasetID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, "", err
			}
			return nil, "", e.storeError(err, "get", datasetID)
		}

		clone := snap.Clone()
		clone.ensureLedgers()

		changed, err := fn(clone)
		if err != nil {
			return nil, "", err
		}
		if !changed {
			return snap, snap.Status, nil
		}

		clone.Version = snap.Version + 1
		clone.UpdatedAt = time.Now()

		if err := e.store.Update(ctx, clone); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				if e.metrics != nil {
					e.metrics.IncrementVersionConflicts()
				}
				e.logger.Debug("version conflict, retrying merge",
					"dataset_id", datasetID, "attempt", attempt+1)
				continue
			}
			return nil, "", e.storeError(err, "update", datasetID)
		}
		return clone, snap.Status, nil
	}

	return nil, "", errors.Newf("giving up after %d version conflicts for dataset %s", e.conflictRetries, datasetID).
		Component("review").
		Category(errors.CategoryConflict).
		Build()
}

// validateDecision checks a submission against the declared content. Any
// reference outside the content, or a data point both approved and rejected
// in the same submission, is malformed.
func validateDecision(r *DatasetReview, d *Decision) error {
	rejected := make(map[string]struct{}, len(d.Rejections))
	for _, id := range d.Rejections {
		if !r.ContainsDataPoint(id) {
			return malformed(r.DatasetID, "rejection references undeclared data point", id)
		}
		if _, ok := r.ApprovedDataPoints[id]; ok {
			return malformed(r.DatasetID, "rejection targets an already approved data point", id)
		}
		if _, ok := r.ApprovedCustomDataPoints[id]; ok {
			return malformed(r.DatasetID, "rejection targets an already approved data point", id)
		}
		rejected[id] = struct{}{}
	}
	for _, id := range d.Approvals {
		if !r.ContainsDataPoint(id) {
			return malformed(r.DatasetID, "approval references undeclared data point", id)
		}
		if _, ok := rejected[id]; ok {
			return malformed(r.DatasetID, "data point both approved and rejected", id)
		}
	}
	for _, id := range d.CustomApprovals {
		if !r.ContainsDataPoint(id) {
			return malformed(r.DatasetID, "custom approval references undeclared data point", id)
		}
		if _, ok := rejected[id]; ok {
			return malformed(r.DatasetID, "data point both approved and rejected", id)
		}
	}
	for _, id := range d.ReportApprovals {
		if !r.ContainsQaReport(id) {
			return malformed(r.DatasetID, "report approval references unattached QA report", id)
		}
	}
	return nil
}

func malformed(datasetID, reason, itemID string) error {
	return errors.New(ErrMalformedDecision).
		Component("review").
		Category(errors.CategoryValidation).
		DatasetContext(datasetID, "").
		Context("reason", reason).
		Context("item_id", itemID).
		Build()
}

func (e *Engine) finalizedError(datasetID string, status Status) error {
	return errors.New(ErrAlreadyFinalized).
		Component("review").
		Category(errors.CategoryConflict).
		DatasetContext(datasetID, "").
		Context("status", string(status)).
		Build()
}

func (e *Engine) storeError(err error, operation, datasetID string) error {
	return errors.New(fmt.Errorf("review store %s: %w", operation, err)).
		Component("review").
		Category(errors.CategoryDatabase).
		DatasetContext(datasetID, "").
		Build()
}

// appendDecisionAudit writes one audit entry per ledger item of a committed
// decision plus a status-change entry when the record left Pending.
func (e *Engine) appendDecisionAudit(ctx context.Context, r *DatasetReview, d *Decision, decisionID string) {
	now := time.Now()
	var entries []AuditEntry

	add := func(action AuditAction, itemID string) {
		entries = append(entries, AuditEntry{
			DatasetID:  r.DatasetID,
			Actor:      d.ReviewerUserID,
			Action:     action,
			ItemID:     itemID,
			DecisionID: decisionID,
			Status:     r.Status,
			Comment:    d.Comment,
			Timestamp:  now,
		})
	}

	for _, id := range d.Approvals {
		add(AuditDataPointOK, id)
	}
	for _, id := range d.CustomApprovals {
		add(AuditCustomValueOK, id)
	}
	for _, id := range d.ReportApprovals {
		add(AuditReportOK, id)
	}
	for _, id := range d.Rejections {
		add(AuditDataPointRefused, id)
	}
	if r.Status != StatusPending {
		add(AuditStatusChanged, "")
	}

	e.appendAudit(ctx, entries...)
}

// appendAudit writes audit entries, logging on failure. The state commit has
// already happened; a failed audit append must not undo it.
func (e *Engine) appendAudit(ctx context.Context, entries ...AuditEntry) {
	if len(entries) == 0 {
		return
	}
	if err := e.store.AppendAudit(ctx, entries...); err != nil {
		e.logger.Error("failed to append audit entries",
			"dataset_id", entries[0].DatasetID,
			"count", len(entries),
			"error", err,
		)
	}
}

// notifyTransition informs listeners after a committed transition. Listener
// errors are logged; listeners own their retry behavior.
func (e *Engine) notifyTransition(ctx context.Context, r *DatasetReview, from Status) {
	if r == nil || r.Status == from {
		return
	}

	if e.metrics != nil {
		e.metrics.IncrementTransitions(string(r.Status))
	}

	ev := TransitionEvent{
		Review:    r,
		From:      from,
		To:        r.Status,
		Timestamp: time.Now(),
	}

	e.mu.Lock()
	listeners := make([]TransitionListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, listener := range listeners {
		if err := listener.HandleTransition(ctx, ev); err != nil {
			e.logger.Error("transition listener failed",
				"listener", listener.Name(),
				"dataset_id", r.DatasetID,
				"from", from,
				"to", r.Status,
				"error", err,
			)
		}
	}

	e.logger.Info("review state transition",
		"dataset_id", r.DatasetID,
		"from", from,
		"to", r.Status,
	)
}
