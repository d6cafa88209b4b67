package api

import (
	"sort"
	"time"

	"github.com/greenledger/qagate/internal/review"
)

// ReviewResponse is the wire form of one dataset review.
type ReviewResponse struct {
	DatasetID       string    `json:"datasetId"`
	CompanyID       string    `json:"companyId"`
	DataType        string    `json:"dataType"`
	ReportingPeriod string    `json:"reportingPeriod"`
	Status          string    `json:"status"`
	ReviewerUserID  string    `json:"reviewerUserId,omitempty"`
	DataPointIDs    []string  `json:"dataPointIds"`
	QaReportIDs     []string  `json:"qaReportIds,omitempty"`
	Preapproved     []string  `json:"preapproved,omitempty"`
	Approved        []string  `json:"approved,omitempty"`
	ApprovedCustom  []string  `json:"approvedCustom,omitempty"`
	ApprovedReports []string  `json:"approvedReports,omitempty"`
	Rejected        []string  `json:"rejected,omitempty"`
	Outstanding     []string  `json:"outstanding"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Version         uint64    `json:"version"`
}

// DecisionRequest carries one reviewer submission.
type DecisionRequest struct {
	Approvals       []string `json:"approvals,omitempty"`
	CustomApprovals []string `json:"customApprovals,omitempty"`
	ReportApprovals []string `json:"reportApprovals,omitempty"`
	Rejections      []string `json:"rejections,omitempty"`
	Comment         string   `json:"comment,omitempty"`
}

// AuditEntryResponse is the wire form of one audit trail entry.
type AuditEntryResponse struct {
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	ItemID     string    `json:"itemId,omitempty"`
	DecisionID string    `json:"decisionId,omitempty"`
	Status     string    `json:"status"`
	Comment    string    `json:"comment,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// PaginatedResponse wraps a list with pagination metadata.
type PaginatedResponse struct {
	Data       any   `json:"data"`
	Total      int64 `json:"total"`
	Limit      int   `json:"limit"`
	Offset     int   `json:"offset"`
	TotalPages int   `json:"total_pages"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

func sortedKeys[V any](m map[string]V) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toReviewResponse(r *review.DatasetReview) *ReviewResponse {
	return &ReviewResponse{
		DatasetID:       r.DatasetID,
		CompanyID:       r.CompanyID,
		DataType:        r.DataType,
		ReportingPeriod: r.ReportingPeriod,
		Status:          string(r.Status),
		ReviewerUserID:  r.ReviewerUserID,
		DataPointIDs:    r.DataPointIDs,
		QaReportIDs:     r.QaReportIDs,
		Preapproved:     sortedKeys(r.Preapproved),
		Approved:        sortedKeys(r.ApprovedDataPoints),
		ApprovedCustom:  sortedKeys(r.ApprovedCustomDataPoints),
		ApprovedReports: sortedKeys(r.ApprovedQaReports),
		Rejected:        sortedKeys(r.RejectedDataPoints),
		Outstanding:     append(r.OutstandingDataPoints(), r.OutstandingQaReports()...),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}
}

func toAuditResponse(entries []review.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, AuditEntryResponse{
			Actor:      e.Actor,
			Action:     string(e.Action),
			ItemID:     e.ItemID,
			DecisionID: e.DecisionID,
			Status:     string(e.Status),
			Comment:    e.Comment,
			Timestamp:  e.Timestamp,
		})
	}
	return out
}
