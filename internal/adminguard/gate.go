package adminguard

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/directus"
)

type Status string

const (
	// StatusLoading is the state before a check has answered.
	StatusLoading      Status = "loading"
	StatusUnauthorized Status = "unauthorized"
	StatusAuthorized   Status = "authorized"
)

const statusKey = "admin_gate"

// Client is the backend surface the gate re-verifies against.
type Client interface {
	IsAuthenticated() bool
	FetchPoliciesGlobals(ctx context.Context) (*directus.PoliciesGlobals, error)
	FetchCurrentUser(ctx context.Context) (*directus.User, error)
}

// Gate re-verifies admin access against the backend on every check, ignoring
// any cached session state. Every failure is unauthorized.
type Gate struct {
	policy authstate.AdminPolicy
	logger zerolog.Logger
}

func New(policy authstate.AdminPolicy, logger zerolog.Logger) *Gate {
	return &Gate{
		policy: policy,
		logger: logger.With().Str("component", "adminguard").Logger(),
	}
}

func (g *Gate) Check(ctx context.Context, client Client) Status {
	if client == nil || !client.IsAuthenticated() {
		return StatusUnauthorized
	}

	policies, err := client.FetchPoliciesGlobals(ctx)
	if err == nil {
		if policies.AdminAccess {
			return StatusAuthorized
		}
		return StatusUnauthorized
	}
	if directus.IsUnauthorized(err) {
		g.logger.Debug().Err(err).Msg("Token rejected by backend")
		return StatusUnauthorized
	}

	// Policies unavailable: the role decides.
	g.logger.Debug().Err(err).Msg("Policies unavailable, checking role")
	user, err := client.FetchCurrentUser(ctx)
	if err != nil {
		g.logger.Debug().Err(err).Msg("Failed to fetch current user")
		return StatusUnauthorized
	}
	if g.policy.RoleIsAdmin(user.Role) {
		return StatusAuthorized
	}
	return StatusUnauthorized
}

// Middleware serves the rest of the chain when the client resolved for the
// request is authorized, and fallback otherwise.
func (g *Gate) Middleware(resolve func(c *gin.Context) Client, fallback gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(statusKey, StatusLoading)

		status := g.Check(c.Request.Context(), resolve(c))
		c.Set(statusKey, status)

		if status != StatusAuthorized {
			fallback(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// FromContext returns the gate decision recorded for the request.
func FromContext(c *gin.Context) Status {
	if v, ok := c.Get(statusKey); ok {
		if status, ok := v.(Status); ok {
			return status
		}
	}
	return StatusLoading
}
