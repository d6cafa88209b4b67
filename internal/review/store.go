package review

import (
	"context"
	"time"

	"github.com/greenledger/qagate/internal/errors"
)

// Store errors matched by the engine.
var (
	// ErrNotFound is returned when no review exists for a dataset identifier.
	ErrNotFound = errors.NewStd("dataset review not found")

	// ErrAlreadyExists is returned by Create when a review for the dataset
	// identifier is already stored.
	ErrAlreadyExists = errors.NewStd("dataset review already exists")

	// ErrVersionConflict is returned by Update when the stored version no
	// longer matches the snapshot's base version.
	ErrVersionConflict = errors.NewStd("dataset review version conflict")
)

// Engine errors surfaced to callers.
var (
	// ErrAlreadyFinalized is returned when a mutation targets a terminal record.
	ErrAlreadyFinalized = errors.NewStd("dataset review already finalized")

	// ErrMalformedDecision is returned when a decision references items that
	// are not part of the dataset's declared content, or approves and rejects
	// the same data point.
	ErrMalformedDecision = errors.NewStd("malformed review decision")
)

// AuditAction classifies one audit trail entry.
type AuditAction string

const (
	AuditReviewCreated    AuditAction = "review-created"
	AuditPreapproved      AuditAction = "data-point-preapproved"
	AuditDataPointOK      AuditAction = "data-point-approved"
	AuditCustomValueOK    AuditAction = "custom-value-approved"
	AuditReportOK         AuditAction = "qa-report-approved"
	AuditDataPointRefused AuditAction = "data-point-rejected"
	AuditStatusChanged    AuditAction = "status-changed"
	AuditDatasetStored    AuditAction = "dataset-stored"
	AuditEventPublished   AuditAction = "quality-assured-published"
)

// AuditEntry is one immutable line of a dataset's review history.
type AuditEntry struct {
	DatasetID  string
	Actor      string // reviewer identity or source name for automated actions
	Action     AuditAction
	ItemID     string // data point or report identifier, empty for record-level actions
	DecisionID string
	Status     Status // record status after the action
	Comment    string
	Timestamp  time.Time
}

// Store is the durable keyed storage for DatasetReview records and their
// audit trail. The engine is the only writer; implementations must keep
// Update atomic under the optimistic version check.
type Store interface {
	Open() error
	Close() error

	// Get returns the latest committed snapshot, ErrNotFound if absent.
	Get(ctx context.Context, datasetID string) (*DatasetReview, error)

	// Create stores a new record, ErrAlreadyExists on a duplicate datasetID.
	Create(ctx context.Context, r *DatasetReview) error

	// Update commits a mutated snapshot whose Version is base+1. It fails with
	// ErrVersionConflict when the stored version is not Version-1, and with
	// ErrNotFound when the record is absent.
	Update(ctx context.Context, r *DatasetReview) error

	// ListByStatus returns records in a state ordered by creation time
	// ascending, plus the total count for pagination.
	ListByStatus(ctx context.Context, status Status, limit, offset int) ([]*DatasetReview, int64, error)

	// AppendAudit appends audit entries; entries are never mutated or deleted.
	AppendAudit(ctx context.Context, entries ...AuditEntry) error

	// AuditTrail returns a dataset's audit entries ordered by time ascending.
	AuditTrail(ctx context.Context, datasetID string) ([]AuditEntry, error)
}
