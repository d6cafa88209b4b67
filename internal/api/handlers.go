package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/greenledger/qagate/internal/errors"
	"github.com/greenledger/qagate/internal/review"
)

// httpError maps domain errors to HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, review.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "dataset review not found")
	case errors.Is(err, review.ErrAlreadyFinalized):
		return echo.NewHTTPError(http.StatusConflict, "review already finalized")
	case errors.Is(err, review.ErrMalformedDecision):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// ListReviews returns reviews filtered by status, oldest first. The
// pending list is the reviewer worklist, so it is cached briefly.
func (c *Controller) ListReviews(ctx echo.Context) error {
	status := review.Status(ctx.QueryParam("status"))
	if status == "" {
		status = review.StatusPending
	}
	if !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", status))
	}

	limit := defaultListLimit
	if raw := ctx.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(parsed, maxListLimit)
	}
	offset := 0
	if raw := ctx.QueryParam("offset"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
		offset = parsed
	}

	cacheKey := fmt.Sprintf("list:%s:%d:%d", status, limit, offset)
	if cached, found := c.listCache.Get(cacheKey); found {
		return ctx.JSON(http.StatusOK, cached)
	}

	reviews, total, err := c.Engine.ListByStatus(ctx.Request().Context(), status, limit, offset)
	if err != nil {
		return httpError(err)
	}

	data := make([]*ReviewResponse, 0, len(reviews))
	for _, r := range reviews {
		data = append(data, toReviewResponse(r))
	}

	totalPages := 0
	if limit > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	resp := &PaginatedResponse{
		Data:       data,
		Total:      total,
		Limit:      limit,
		Offset:     offset,
		TotalPages: totalPages,
	}
	c.listCache.SetDefault(cacheKey, resp)

	return ctx.JSON(http.StatusOK, resp)
}

// GetReview returns one review by dataset id.
func (c *Controller) GetReview(ctx echo.Context) error {
	r, err := c.Engine.GetReview(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return ctx.JSON(http.StatusOK, toReviewResponse(r))
}

// SubmitDecision applies one reviewer submission to a pending review.
func (c *Controller) SubmitDecision(ctx echo.Context) error {
	id := identityFrom(ctx)
	if id == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}

	var req DecisionRequest
	if err := ctx.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	r, err := c.Engine.SubmitDecision(ctx.Request().Context(), ctx.Param("id"), &review.Decision{
		ReviewerUserID:  id.UserID,
		Approvals:       req.Approvals,
		CustomApprovals: req.CustomApprovals,
		ReportApprovals: req.ReportApprovals,
		Rejections:      req.Rejections,
		Comment:         req.Comment,
	})
	if err != nil {
		return httpError(err)
	}

	c.listCache.Flush()
	c.logger.Info("decision accepted",
		"dataset_id", r.DatasetID,
		"reviewer", id.UserID,
		"status", r.Status,
	)
	return ctx.JSON(http.StatusOK, toReviewResponse(r))
}

// Evaluate re-runs the transition rules without new input.
func (c *Controller) Evaluate(ctx echo.Context) error {
	r, err := c.Engine.Evaluate(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return httpError(err)
	}
	c.listCache.Flush()
	return ctx.JSON(http.StatusOK, toReviewResponse(r))
}

// GetAuditTrail returns the full audit history of one review.
func (c *Controller) GetAuditTrail(ctx echo.Context) error {
	entries, err := c.Engine.AuditTrail(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return ctx.JSON(http.StatusOK, toAuditResponse(entries))
}
