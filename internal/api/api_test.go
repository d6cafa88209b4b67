package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenledger/qagate/internal/conf"
	"github.com/greenledger/qagate/internal/review"
	"github.com/greenledger/qagate/internal/reviewstore"
)

func newTestController(t *testing.T) (*Controller, *review.Engine) {
	t.Helper()
	engine := review.NewEngine(reviewstore.NewMemoryStore(), nil)
	settings := &conf.Settings{}
	settings.Review.PendingCacheTTL = time.Nanosecond
	controller := New(echo.New(), engine, settings, nil)
	return controller, engine
}

func seedReview(t *testing.T, engine *review.Engine, datasetID string, dataPoints []string) {
	t.Helper()
	created, err := engine.CreateReview(context.Background(), &review.DatasetReview{
		DatasetID:       datasetID,
		CompanyID:       "comp-1",
		DataType:        "sfdr",
		ReportingPeriod: "2025",
		DataPointIDs:    dataPoints,
	}, "upload-pipeline")
	require.NoError(t, err)
	require.True(t, created)
}

func doRequest(c *Controller, method, target string, body string, reviewer bool) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if reviewer {
		req.Header.Set("X-User-Id", "rev-1")
		req.Header.Set("X-User-Name", "Reviewer One")
		req.Header.Set("X-User-Roles", "reviewer")
	}
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

func TestGetReview(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-1", []string{"p1", "p2"})

	rec := doRequest(controller, http.MethodGet, "/api/v1/reviews/ds-1", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ds-1", resp.DatasetID)
	assert.Equal(t, string(review.StatusPending), resp.Status)
	assert.ElementsMatch(t, []string{"p1", "p2"}, resp.Outstanding)

	rec = doRequest(controller, http.MethodGet, "/api/v1/reviews/missing", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListReviewsPagination(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-a", []string{"p1"})
	seedReview(t, engine, "ds-b", []string{"p1"})
	seedReview(t, engine, "ds-c", []string{"p1"})

	rec := doRequest(controller, http.MethodGet, "/api/v1/reviews?limit=2", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data       []ReviewResponse `json:"data"`
		Total      int64            `json:"total"`
		TotalPages int              `json:"total_pages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Total)
	assert.Equal(t, 2, resp.TotalPages)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "ds-a", resp.Data[0].DatasetID)
	assert.Equal(t, "ds-b", resp.Data[1].DatasetID)

	rec = doRequest(controller, http.MethodGet, "/api/v1/reviews?limit=2&offset=2", "", true)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "ds-c", resp.Data[0].DatasetID)

	rec = doRequest(controller, http.MethodGet, "/api/v1/reviews?status=Bogus", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(controller, http.MethodGet, "/api/v1/reviews?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAllReviewRoutesRequireReviewerRole(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-sec", []string{"p1"})

	targets := []string{
		"/api/v1/reviews",
		"/api/v1/reviews/ds-sec",
		"/api/v1/reviews/ds-sec/audit",
	}
	for _, target := range targets {
		rec := doRequest(controller, http.MethodGet, target, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "anonymous GET %s", target)

		req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
		req.Header.Set("X-User-Id", "user-1")
		req.Header.Set("X-User-Roles", "uploader")
		rec = httptest.NewRecorder()
		controller.Echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, "uploader GET %s", target)
	}
}

func TestSubmitDecisionRequiresReviewerRole(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-auth", []string{"p1"})

	body := `{"approvals":["p1"]}`

	rec := doRequest(controller, http.MethodPost, "/api/v1/reviews/ds-auth/decision", body, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reviews/ds-auth/decision", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("X-User-Id", "user-1")
	req.Header.Set("X-User-Roles", "uploader")
	rec = httptest.NewRecorder()
	controller.Echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitDecisionAccepts(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-dec", []string{"p1"})

	rec := doRequest(controller, http.MethodPost, "/api/v1/reviews/ds-dec/decision",
		`{"approvals":["p1"],"comment":"verified against the filing"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(review.StatusAccepted), resp.Status)
	assert.Equal(t, "rev-1", resp.ReviewerUserID)
	assert.Empty(t, resp.Outstanding)
}

func TestSubmitDecisionErrorMapping(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-err", []string{"p1"})

	// Undeclared data point is a bad request.
	rec := doRequest(controller, http.MethodPost, "/api/v1/reviews/ds-err/decision",
		`{"approvals":["ghost"]}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Empty decision is a bad request.
	rec = doRequest(controller, http.MethodPost, "/api/v1/reviews/ds-err/decision", `{}`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown dataset is 404.
	rec = doRequest(controller, http.MethodPost, "/api/v1/reviews/missing/decision",
		`{"approvals":["p1"]}`, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Finalized review is a conflict.
	_, err := engine.SubmitDecision(context.Background(), "ds-err", &review.Decision{
		ReviewerUserID: "rev-1",
		Rejections:     []string{"p1"},
	})
	require.NoError(t, err)

	rec = doRequest(controller, http.MethodPost, "/api/v1/reviews/ds-err/decision",
		`{"approvals":["p1"]}`, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEvaluateEndpoint(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-eval", []string{"p1"})

	_, err := engine.RecordPreapproval(context.Background(), "ds-eval", []string{"p1"}, "automated-qa-service")
	require.NoError(t, err)

	rec := doRequest(controller, http.MethodPost, "/api/v1/reviews/ds-eval/evaluate", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReviewResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(review.StatusAccepted), resp.Status)

	rec = doRequest(controller, http.MethodPost, "/api/v1/reviews/ds-eval/evaluate", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuditTrailEndpoint(t *testing.T) {
	t.Parallel()
	controller, engine := newTestController(t)
	seedReview(t, engine, "ds-audit", []string{"p1"})

	_, err := engine.SubmitDecision(context.Background(), "ds-audit", &review.Decision{
		ReviewerUserID: "rev-1",
		Approvals:      []string{"p1"},
	})
	require.NoError(t, err)

	rec := doRequest(controller, http.MethodGet, "/api/v1/reviews/ds-audit/audit", "", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []AuditEntryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.NotEmpty(t, entries)
	assert.Equal(t, string(review.AuditReviewCreated), entries[0].Action)

	rec = doRequest(controller, http.MethodGet, "/api/v1/reviews/missing/audit", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	controller, _ := newTestController(t)

	rec := doRequest(controller, http.MethodGet, "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestIdentityProvider(t *testing.T) {
	t.Parallel()

	e := echo.New()
	provider := NewHeaderIdentityProvider()

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-User-Id", "u1")
	req.Header.Set("X-User-Roles", "reviewer, admin")
	id, err := provider.Resolve(e.NewContext(req, httptest.NewRecorder()))
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "u1", id.UserID)
	assert.True(t, id.HasRole(RoleReviewer))
	assert.True(t, id.HasRole("anything"), "admin passes every role check")

	req = httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	id, err = provider.Resolve(e.NewContext(req, httptest.NewRecorder()))
	require.NoError(t, err)
	assert.Nil(t, id, "no identity header means anonymous")
}
