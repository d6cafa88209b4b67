// Package ingest turns dataset arrival messages into pending reviews.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/greenledger/qagate/internal/errors"
	"github.com/greenledger/qagate/internal/events"
	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/review"
)

// QueueDataReceived is this service's durable queue on the dataset
// arrival topic. Other services bind their own queues to the same topic.
const QueueDataReceived = "qagate.dataReceived"

// AutomatedReviewer is the actor recorded for machine pre-approvals.
const AutomatedReviewer = "automated-qa-service"

// DataReceivedMessage announces one uploaded dataset together with its
// declared content.
type DataReceivedMessage struct {
	DatasetID       string   `json:"datasetId"`
	CompanyID       string   `json:"companyId"`
	DataType        string   `json:"dataType"`
	ReportingPeriod string   `json:"reportingPeriod"`
	DataPointIDs    []string `json:"dataPointIds"`
	QaReportIDs     []string `json:"qaReportIds,omitempty"`
	UploaderUserID  string   `json:"uploaderUserId,omitempty"`
}

// PreapprovalSource reports which declared data points passed automated
// checks and need no human review. Implementations may call out to a
// rule engine or read upload-time annotations.
type PreapprovalSource interface {
	Preapproved(ctx context.Context, msg *DataReceivedMessage) ([]string, error)
}

// PreapprovalFunc adapts a function to the PreapprovalSource interface.
type PreapprovalFunc func(ctx context.Context, msg *DataReceivedMessage) ([]string, error)

func (f PreapprovalFunc) Preapproved(ctx context.Context, msg *DataReceivedMessage) ([]string, error) {
	return f(ctx, msg)
}

// Adapter consumes dataset arrival messages and opens reviews for them.
type Adapter struct {
	engine *review.Engine
	source PreapprovalSource
	logger *slog.Logger
}

// NewAdapter creates an ingestion adapter. source may be nil when no
// automated checks run in this deployment.
func NewAdapter(engine *review.Engine, source PreapprovalSource) *Adapter {
	a := &Adapter{
		engine: engine,
		source: source,
		logger: logging.ForService("ingest"),
	}
	if a.logger == nil {
		a.logger = slog.Default().With("service", "ingest")
	}
	return a
}

// Attach binds the adapter's queue to the dataset arrival topic.
func (a *Adapter) Attach(bus *events.Bus) error {
	return bus.Subscribe(events.TopicDataReceived, QueueDataReceived, a.Handle)
}

// Handle processes one arrival message. Malformed payloads are permanent
// failures; duplicate announcements are acknowledged without effect so
// redeliveries stay harmless.
func (a *Adapter) Handle(ctx context.Context, msg *events.Message) error {
	var received DataReceivedMessage
	if err := json.Unmarshal(msg.Payload, &received); err != nil {
		return events.Permanent(errors.New(fmt.Errorf("decoding arrival message: %w", err)).
			Component("ingest").
			Category(errors.CategoryValidation).
			Context("message_id", msg.ID).
			Build())
	}
	if received.DatasetID == "" {
		return events.Permanent(errors.Newf("arrival message %s carries no dataset id", msg.ID).
			Component("ingest").
			Category(errors.CategoryValidation).
			Build())
	}

	created, err := a.engine.CreateReview(ctx, &review.DatasetReview{
		DatasetID:       received.DatasetID,
		CompanyID:       received.CompanyID,
		DataType:        received.DataType,
		ReportingPeriod: received.ReportingPeriod,
		DataPointIDs:    received.DataPointIDs,
		QaReportIDs:     received.QaReportIDs,
	}, received.UploaderUserID)
	if err != nil {
		if errors.Is(err, review.ErrMalformedDecision) {
			return events.Permanent(err)
		}
		return err
	}
	if !created {
		a.logger.Debug("duplicate dataset arrival",
			"dataset_id", received.DatasetID,
			"message_id", msg.ID,
		)
	}

	if a.source != nil {
		ids, err := a.source.Preapproved(ctx, &received)
		if err != nil {
			// External rule source failures do not block the review;
			// reviewers still cover every point by hand.
			a.logger.Warn("automated pre-approval source failed",
				"dataset_id", received.DatasetID,
				"error", err,
			)
		} else if len(ids) > 0 {
			if _, err := a.engine.RecordPreapproval(ctx, received.DatasetID, ids, AutomatedReviewer); err != nil {
				if errors.Is(err, review.ErrAlreadyFinalized) {
					// Redelivery of an arrival whose review already
					// reached a terminal state.
					return nil
				}
				// Store failures nack so the merge is retried instead of
				// silently dropping the automated pre-approvals.
				return err
			}
		}
	}

	// Runs on redeliveries too: a crash between create and evaluate must
	// not strand a fully covered dataset in Pending.
	if _, err := a.engine.Evaluate(ctx, received.DatasetID); err != nil {
		return err
	}
	return nil
}
