// Package review owns the QA review state machine for uploaded ESG datasets:
// per-dataset review status, the granular approval ledgers and the transition
// rules that decide when a dataset is quality assured.
package review

import (
	"maps"
	"slices"
	"time"
)

// Status is the review state of a dataset.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
)

// Terminal reports whether no further transition may leave this state.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Valid reports whether s is a known review status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// DatasetReview is one dataset's review record: immutable identity, declared
// content and the approval ledgers. Mutations go through the Engine, which
// always works on a copied snapshot and commits it as a new version, so a
// stored record is never torn.
type DatasetReview struct {
	// Identity, set at creation and never changed.
	DatasetID       string
	CompanyID       string
	DataType        string
	ReportingPeriod string

	// Declared content of the dataset.
	DataPointIDs []string
	QaReportIDs  []string

	Status Status

	// ReviewerUserID identifies the last actor who moved the record away from
	// its initial state. Stays empty when acceptance is reached purely through
	// pre-approval.
	ReviewerUserID string

	// Preapproved holds data points cleared by an automated or inherited
	// decision; they do not require re-review.
	Preapproved map[string]struct{}

	// Approval ledgers: item identifier -> approving decision identifier.
	ApprovedDataPoints       map[string]string
	ApprovedCustomDataPoints map[string]string
	ApprovedQaReports        map[string]string

	// RejectedDataPoints: data point identifier -> rejecting decision identifier.
	RejectedDataPoints map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is the optimistic concurrency token, incremented on every commit.
	Version uint64
}

// Clone returns a deep copy of the review.
func (r *DatasetReview) Clone() *DatasetReview {
	clone := *r
	clone.DataPointIDs = slices.Clone(r.DataPointIDs)
	clone.QaReportIDs = slices.Clone(r.QaReportIDs)
	clone.Preapproved = maps.Clone(r.Preapproved)
	clone.ApprovedDataPoints = maps.Clone(r.ApprovedDataPoints)
	clone.ApprovedCustomDataPoints = maps.Clone(r.ApprovedCustomDataPoints)
	clone.ApprovedQaReports = maps.Clone(r.ApprovedQaReports)
	clone.RejectedDataPoints = maps.Clone(r.RejectedDataPoints)
	return &clone
}

// ContainsDataPoint reports whether id is part of the declared content.
func (r *DatasetReview) ContainsDataPoint(id string) bool {
	return slices.Contains(r.DataPointIDs, id)
}

// ContainsQaReport reports whether id is an attached QA report.
func (r *DatasetReview) ContainsQaReport(id string) bool {
	return slices.Contains(r.QaReportIDs, id)
}

// approvedDataPoint reports whether id has any approval path: an explicit
// approval, a custom value approval or a pre-approval.
func (r *DatasetReview) approvedDataPoint(id string) bool {
	if _, ok := r.ApprovedDataPoints[id]; ok {
		return true
	}
	if _, ok := r.ApprovedCustomDataPoints[id]; ok {
		return true
	}
	_, ok := r.Preapproved[id]
	return ok
}

// OutstandingDataPoints returns the declared data points with no approval path yet.
func (r *DatasetReview) OutstandingDataPoints() []string {
	var outstanding []string
	for _, id := range r.DataPointIDs {
		if !r.approvedDataPoint(id) {
			outstanding = append(outstanding, id)
		}
	}
	return outstanding
}

// OutstandingQaReports returns the attached reports not yet approved.
func (r *DatasetReview) OutstandingQaReports() []string {
	var outstanding []string
	for _, id := range r.QaReportIDs {
		if _, ok := r.ApprovedQaReports[id]; !ok {
			outstanding = append(outstanding, id)
		}
	}
	return outstanding
}

// CoverageComplete reports whether every declared data point and attached
// report has an approval path. An empty dataset is trivially complete.
func (r *DatasetReview) CoverageComplete() bool {
	return len(r.OutstandingDataPoints()) == 0 && len(r.OutstandingQaReports()) == 0
}

// ensureLedgers allocates ledger maps on a freshly created or cloned record.
func (r *DatasetReview) ensureLedgers() {
	if r.Preapproved == nil {
		r.Preapproved = make(map[string]struct{})
	}
	if r.ApprovedDataPoints == nil {
		r.ApprovedDataPoints = make(map[string]string)
	}
	if r.ApprovedCustomDataPoints == nil {
		r.ApprovedCustomDataPoints = make(map[string]string)
	}
	if r.ApprovedQaReports == nil {
		r.ApprovedQaReports = make(map[string]string)
	}
	if r.RejectedDataPoints == nil {
		r.RejectedDataPoints = make(map[string]string)
	}
}

// Decision is one reviewer submission against a pending review.
type Decision struct {
	// ReviewerUserID is the verified identity of the submitting reviewer.
	ReviewerUserID string

	// DecisionID identifies this submission in the ledgers; generated by the
	// engine when empty.
	DecisionID string

	// Approvals and CustomApprovals approve declared data points, the latter
	// with a reviewer-supplied corrected value.
	Approvals       []string
	CustomApprovals []string

	// ReportApprovals approve attached QA reports.
	ReportApprovals []string

	// Rejections reject declared data points; any rejection makes the whole
	// review Rejected.
	Rejections []string

	// Comment is free-form reviewer justification, kept in the audit trail.
	Comment string
}

// Empty reports whether the decision carries no approvals or rejections.
func (d *Decision) Empty() bool {
	return len(d.Approvals) == 0 &&
		len(d.CustomApprovals) == 0 &&
		len(d.ReportApprovals) == 0 &&
		len(d.Rejections) == 0
}
