// Package emit publishes review outcomes downstream and consumes
// storage confirmations back into the audit trail.
package emit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/greenledger/qagate/internal/errors"
	"github.com/greenledger/qagate/internal/events"
	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/review"
)

// QueueDataStored is this service's durable queue on the storage
// confirmation topic.
const QueueDataStored = "qagate.dataStored"

// StorageActor is the actor recorded for storage confirmations.
const StorageActor = "storage-service"

// DataQualityAssuredMessage tells downstream services a dataset cleared
// quality assurance and may be persisted and served.
type DataQualityAssuredMessage struct {
	DatasetID       string    `json:"datasetId"`
	CompanyID       string    `json:"companyId"`
	DataType        string    `json:"dataType"`
	ReportingPeriod string    `json:"reportingPeriod"`
	ReviewerUserID  string    `json:"reviewerUserId,omitempty"`
	AssuredAt       time.Time `json:"assuredAt"`
}

// DataStoredMessage confirms the storage service persisted a dataset.
type DataStoredMessage struct {
	DatasetID string    `json:"datasetId"`
	StoredAt  time.Time `json:"storedAt"`
}

// Publisher forwards accepted reviews to the quality-assured topic. It
// runs as a transition listener, so a message goes out only after the
// accepting state change is durably committed. Every publish appends an
// audit marker; Replay resends accepted reviews whose marker is missing.
type Publisher struct {
	bus    *events.Bus
	engine *review.Engine
	logger *slog.Logger
}

func NewPublisher(bus *events.Bus, engine *review.Engine) *Publisher {
	p := &Publisher{
		bus:    bus,
		engine: engine,
		logger: logging.ForService("emit"),
	}
	if p.logger == nil {
		p.logger = slog.Default().With("service", "emit")
	}
	return p
}

func (p *Publisher) Name() string { return "quality-assured-publisher" }

// HandleTransition publishes for transitions into Accepted. Rejections
// stay internal.
func (p *Publisher) HandleTransition(ctx context.Context, ev review.TransitionEvent) error {
	if ev.To != review.StatusAccepted {
		return nil
	}
	return p.publish(ctx, ev.Review, ev.Timestamp)
}

func (p *Publisher) publish(ctx context.Context, r *review.DatasetReview, assuredAt time.Time) error {
	msg := DataQualityAssuredMessage{
		DatasetID:       r.DatasetID,
		CompanyID:       r.CompanyID,
		DataType:        r.DataType,
		ReportingPeriod: r.ReportingPeriod,
		ReviewerUserID:  r.ReviewerUserID,
		AssuredAt:       assuredAt,
	}
	if err := p.bus.Publish(ctx, events.TopicDataQualityAssured, msg); err != nil {
		return errors.New(fmt.Errorf("publishing quality assurance for dataset %s: %w", r.DatasetID, err)).
			Component("emit").
			Category(errors.CategoryMessaging).
			DatasetContext(r.DatasetID, r.CompanyID).
			Build()
	}

	// A lost marker means Replay sends a duplicate, which at-least-once
	// delivery allows.
	if err := p.engine.MarkPublished(ctx, r.DatasetID, p.Name()); err != nil {
		p.logger.Warn("recording publish marker failed",
			"dataset_id", r.DatasetID,
			"error", err,
		)
	}

	p.logger.Info("dataset quality assured",
		"dataset_id", r.DatasetID,
		"company_id", r.CompanyID,
		"reviewer", r.ReviewerUserID,
	)
	return nil
}

// Replay publishes the quality-assured event for accepted reviews that
// have no publish marker, e.g. after a crash between the accepting
// commit and the publish. Called once at startup.
func (p *Publisher) Replay(ctx context.Context) error {
	const batch = 200
	for offset := 0; ; offset += batch {
		reviews, _, err := p.engine.ListByStatus(ctx, review.StatusAccepted, batch, offset)
		if err != nil {
			return err
		}
		if len(reviews) == 0 {
			return nil
		}
		for _, r := range reviews {
			entries, err := p.engine.AuditTrail(ctx, r.DatasetID)
			if err != nil {
				return err
			}
			if hasPublishMarker(entries) {
				continue
			}
			p.logger.Info("replaying unsent quality-assured event", "dataset_id", r.DatasetID)
			if err := p.publish(ctx, r, r.UpdatedAt); err != nil {
				return err
			}
		}
		if len(reviews) < batch {
			return nil
		}
	}
}

func hasPublishMarker(entries []review.AuditEntry) bool {
	for _, e := range entries {
		if e.Action == review.AuditEventPublished {
			return true
		}
	}
	return false
}

// StoredConsumer records storage confirmations in the audit trail.
type StoredConsumer struct {
	engine *review.Engine
	logger *slog.Logger
}

func NewStoredConsumer(engine *review.Engine) *StoredConsumer {
	c := &StoredConsumer{
		engine: engine,
		logger: logging.ForService("emit"),
	}
	if c.logger == nil {
		c.logger = slog.Default().With("service", "emit")
	}
	return c
}

// Attach binds the consumer's queue to the storage confirmation topic.
func (c *StoredConsumer) Attach(bus *events.Bus) error {
	return bus.Subscribe(events.TopicDataStored, QueueDataStored, c.Handle)
}

// Handle appends one audit entry per confirmation. Confirmations for
// unknown datasets are permanent failures, anything else is retried.
func (c *StoredConsumer) Handle(ctx context.Context, msg *events.Message) error {
	var stored DataStoredMessage
	if err := json.Unmarshal(msg.Payload, &stored); err != nil {
		return events.Permanent(fmt.Errorf("decoding storage confirmation: %w", err))
	}
	if stored.DatasetID == "" {
		return events.Permanent(fmt.Errorf("storage confirmation %s carries no dataset id", msg.ID))
	}

	if err := c.engine.MarkStored(ctx, stored.DatasetID, StorageActor); err != nil {
		if errors.Is(err, review.ErrNotFound) {
			return events.Permanent(err)
		}
		return err
	}

	c.logger.Debug("storage confirmation recorded", "dataset_id", stored.DatasetID)
	return nil
}
