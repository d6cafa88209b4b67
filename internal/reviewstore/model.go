// Package reviewstore provides the durable backends for dataset review
// records: gorm-backed SQLite and MySQL stores plus an in-memory reference
// store. All implement review.Store.
package reviewstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenledger/qagate/internal/review"
)

// ReviewRecord is the gorm entity for one dataset review.
// Ledger columns hold JSON documents; the review engine always reads and
// writes whole snapshots, so per-key SQL access is not needed.
type ReviewRecord struct {
	ID              uint   `gorm:"primaryKey"`
	DatasetID       string `gorm:"uniqueIndex;size:64;not null"`
	CompanyID       string `gorm:"size:64;index"`
	DataType        string `gorm:"size:128"`
	ReportingPeriod string `gorm:"size:32"`
	Status          string `gorm:"size:16;index:idx_reviews_status_created"`
	ReviewerUserID  string `gorm:"size:64"`

	DataPointIDs             string `gorm:"type:text"`
	QaReportIDs              string `gorm:"type:text"`
	Preapproved              string `gorm:"type:text"`
	ApprovedDataPoints       string `gorm:"type:text"`
	ApprovedCustomDataPoints string `gorm:"type:text"`
	ApprovedQaReports        string `gorm:"type:text"`
	RejectedDataPoints       string `gorm:"type:text"`

	Version   uint64    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index:idx_reviews_status_created"`
	UpdatedAt time.Time
}

// TableName sets the table name for review records.
func (ReviewRecord) TableName() string {
	return "dataset_reviews"
}

// AuditRecord is the gorm entity for one audit trail entry.
type AuditRecord struct {
	ID         uint   `gorm:"primaryKey"`
	DatasetID  string `gorm:"size:64;index:idx_audit_dataset_time"`
	Actor      string `gorm:"size:64"`
	Action     string `gorm:"size:32"`
	ItemID     string `gorm:"size:64"`
	DecisionID string `gorm:"size:64"`
	Status     string `gorm:"size:16"`
	Comment    string `gorm:"type:text"`
	Timestamp  time.Time `gorm:"index:idx_audit_dataset_time"`
}

// TableName sets the table name for audit records.
func (AuditRecord) TableName() string {
	return "review_audit_log"
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalJSON(data string, v any) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

// toRecord converts a review snapshot into its storable form.
func toRecord(r *review.DatasetReview) (*ReviewRecord, error) {
	rec := &ReviewRecord{
		DatasetID:       r.DatasetID,
		CompanyID:       r.CompanyID,
		DataType:        r.DataType,
		ReportingPeriod: r.ReportingPeriod,
		Status:          string(r.Status),
		ReviewerUserID:  r.ReviewerUserID,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}

	preapproved := make([]string, 0, len(r.Preapproved))
	for id := range r.Preapproved {
		preapproved = append(preapproved, id)
	}

	var err error
	if rec.DataPointIDs, err = marshalJSON(r.DataPointIDs); err != nil {
		return nil, fmt.Errorf("encoding data point ids: %w", err)
	}
	if rec.QaReportIDs, err = marshalJSON(r.QaReportIDs); err != nil {
		return nil, fmt.Errorf("encoding qa report ids: %w", err)
	}
	if rec.Preapproved, err = marshalJSON(preapproved); err != nil {
		return nil, fmt.Errorf("encoding preapproved set: %w", err)
	}
	if rec.ApprovedDataPoints, err = marshalJSON(r.ApprovedDataPoints); err != nil {
		return nil, fmt.Errorf("encoding approved data points: %w", err)
	}
	if rec.ApprovedCustomDataPoints, err = marshalJSON(r.ApprovedCustomDataPoints); err != nil {
		return nil, fmt.Errorf("encoding approved custom data points: %w", err)
	}
	if rec.ApprovedQaReports, err = marshalJSON(r.ApprovedQaReports); err != nil {
		return nil, fmt.Errorf("encoding approved qa reports: %w", err)
	}
	if rec.RejectedDataPoints, err = marshalJSON(r.RejectedDataPoints); err != nil {
		return nil, fmt.Errorf("encoding rejected data points: %w", err)
	}

	return rec, nil
}

// fromRecord converts a stored record back into a review snapshot.
func fromRecord(rec *ReviewRecord) (*review.DatasetReview, error) {
	r := &review.DatasetReview{
		DatasetID:       rec.DatasetID,
		CompanyID:       rec.CompanyID,
		DataType:        rec.DataType,
		ReportingPeriod: rec.ReportingPeriod,
		Status:          review.Status(rec.Status),
		ReviewerUserID:  rec.ReviewerUserID,
		Version:         rec.Version,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}

	if err := unmarshalJSON(rec.DataPointIDs, &r.DataPointIDs); err != nil {
		return nil, fmt.Errorf("decoding data point ids: %w", err)
	}
	if err := unmarshalJSON(rec.QaReportIDs, &r.QaReportIDs); err != nil {
		return nil, fmt.Errorf("decoding qa report ids: %w", err)
	}
	var preapproved []string
	if err := unmarshalJSON(rec.Preapproved, &preapproved); err != nil {
		return nil, fmt.Errorf("decoding preapproved set: %w", err)
	}
	r.Preapproved = make(map[string]struct{}, len(preapproved))
	for _, id := range preapproved {
		r.Preapproved[id] = struct{}{}
	}
	if err := unmarshalJSON(rec.ApprovedDataPoints, &r.ApprovedDataPoints); err != nil {
		return nil, fmt.Errorf("decoding approved data points: %w", err)
	}
	if err := unmarshalJSON(rec.ApprovedCustomDataPoints, &r.ApprovedCustomDataPoints); err != nil {
		return nil, fmt.Errorf("decoding approved custom data points: %w", err)
	}
	if err := unmarshalJSON(rec.ApprovedQaReports, &r.ApprovedQaReports); err != nil {
		return nil, fmt.Errorf("decoding approved qa reports: %w", err)
	}
	if err := unmarshalJSON(rec.RejectedDataPoints, &r.RejectedDataPoints); err != nil {
		return nil, fmt.Errorf("decoding rejected data points: %w", err)
	}

	return r, nil
}

// toAuditRecord converts an audit entry into its storable form.
func toAuditRecord(e *review.AuditEntry) *AuditRecord {
	return &AuditRecord{
		DatasetID:  e.DatasetID,
		Actor:      e.Actor,
		Action:     string(e.Action),
		ItemID:     e.ItemID,
		DecisionID: e.DecisionID,
		Status:     string(e.Status),
		Comment:    e.Comment,
		Timestamp:  e.Timestamp,
	}
}

// fromAuditRecord converts a stored audit record back into an entry.
func fromAuditRecord(rec *AuditRecord) review.AuditEntry {
	return review.AuditEntry{
		DatasetID:  rec.DatasetID,
		Actor:      rec.Actor,
		Action:     review.AuditAction(rec.Action),
		ItemID:     rec.ItemID,
		DecisionID: rec.DecisionID,
		Status:     review.Status(rec.Status),
		Comment:    rec.Comment,
		Timestamp:  rec.Timestamp,
	}
}
