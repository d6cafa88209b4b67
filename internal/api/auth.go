package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// Role names understood by the access checks.
const (
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// Identity describes the authenticated caller of a request.
type Identity struct {
	UserID   string
	Username string
	Roles    []string
}

// HasRole reports whether the identity carries the role. Admins pass
// every role check.
func (id *Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// IdentityProvider resolves the caller identity of a request. A nil
// identity with a nil error means the request is anonymous.
type IdentityProvider interface {
	Resolve(c echo.Context) (*Identity, error)
}

// HeaderIdentityProvider reads identity from trusted gateway headers.
// Deployments terminate authentication at the ingress proxy, which
// strips and re-sets these headers.
type HeaderIdentityProvider struct {
	UserIDHeader   string
	UsernameHeader string
	RolesHeader    string
}

// NewHeaderIdentityProvider returns a provider with the default headers.
func NewHeaderIdentityProvider() *HeaderIdentityProvider {
	return &HeaderIdentityProvider{
		UserIDHeader:   "X-User-Id",
		UsernameHeader: "X-User-Name",
		RolesHeader:    "X-User-Roles",
	}
}

func (p *HeaderIdentityProvider) Resolve(c echo.Context) (*Identity, error) {
	userID := c.Request().Header.Get(p.UserIDHeader)
	if userID == "" {
		return nil, nil
	}

	var roles []string
	for _, role := range strings.Split(c.Request().Header.Get(p.RolesHeader), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	return &Identity{
		UserID:   userID,
		Username: c.Request().Header.Get(p.UsernameHeader),
		Roles:    roles,
	}, nil
}

const identityContextKey = "qagate_identity"

// identityFrom returns the identity stored by the auth middleware.
func identityFrom(c echo.Context) *Identity {
	id, _ := c.Get(identityContextKey).(*Identity)
	return id
}

// RequireRole builds middleware that rejects anonymous callers with 401
// and authenticated callers missing the role with 403.
func RequireRole(provider IdentityProvider, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, err := provider.Resolve(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "identity resolution failed")
			}
			if id == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}
			if !id.HasRole(role) {
				return echo.NewHTTPError(http.StatusForbidden, "missing required role "+role)
			}
			c.Set(identityContextKey, id)
			return next(c)
		}
	}
}
