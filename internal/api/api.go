// Package api exposes the HTTP query and decision surface of the
// QA review service.
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/patrickmn/go-cache"

	"github.com/greenledger/qagate/internal/conf"
	"github.com/greenledger/qagate/internal/logging"
	"github.com/greenledger/qagate/internal/observability"
	"github.com/greenledger/qagate/internal/review"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Controller manages the API routes and handlers.
type Controller struct {
	Echo     *echo.Echo
	Group    *echo.Group
	Engine   *review.Engine
	Settings *conf.Settings

	identity  IdentityProvider
	listCache *cache.Cache
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// Option is a functional option for configuring the Controller.
type Option func(*Controller)

// WithIdentityProvider overrides the identity provider.
func WithIdentityProvider(provider IdentityProvider) Option {
	return func(c *Controller) {
		if provider != nil {
			c.identity = provider
		}
	}
}

// New creates the API controller and registers its routes on e.
// metricsCollector may be nil in tests.
func New(e *echo.Echo, engine *review.Engine, settings *conf.Settings,
	metricsCollector *observability.Metrics, opts ...Option) *Controller {

	c := &Controller{
		Echo:      e,
		Engine:    engine,
		Settings:  settings,
		identity:  NewHeaderIdentityProvider(),
		listCache: cache.New(settings.Review.PendingCacheTTL, time.Minute),
		metrics:   metricsCollector,
		logger:    logging.ForService("api"),
	}
	if c.logger == nil {
		c.logger = slog.Default().With("service", "api")
	}
	for _, opt := range opts {
		opt(c)
	}

	c.initRoutes()
	return c
}

func (c *Controller) initRoutes() {
	c.Echo.Use(middleware.Recover())
	c.Echo.Use(c.requestMetrics)

	c.Echo.GET("/healthz", c.Healthz)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	// Every review operation, reads included, requires the reviewer
	// role; identity is resolved once at the group boundary.
	c.Group = c.Echo.Group("/api/v1", RequireRole(c.identity, RoleReviewer))

	c.Group.GET("/reviews", c.ListReviews)
	c.Group.GET("/reviews/:id", c.GetReview)
	c.Group.GET("/reviews/:id/audit", c.GetAuditTrail)

	c.Group.POST("/reviews/:id/decision", c.SubmitDecision)
	c.Group.POST("/reviews/:id/evaluate", c.Evaluate)
}

// requestMetrics records duration and status per route.
func (c *Controller) requestMetrics(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if c.metrics == nil {
			return next(ctx)
		}
		start := time.Now()
		err := next(ctx)

		status := ctx.Response().Status
		if err != nil {
			if httpErr, ok := err.(*echo.HTTPError); ok {
				status = httpErr.Code
			} else {
				status = http.StatusInternalServerError
			}
		}
		c.metrics.HTTP.ObserveRequest(
			ctx.Request().Method,
			ctx.Path(),
			strconv.Itoa(status),
			time.Since(start).Seconds(),
		)
		return err
	}
}

// Healthz reports liveness.
func (c *Controller) Healthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
