package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/planboo/photoreview/internal/adminguard"
	"github.com/planboo/photoreview/internal/auth"
	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/sessions"
)

const (
	bearerPrefix = "Bearer "

	// SessionCookie names the cookie carrying the signed session token.
	SessionCookie = "photoreview_session"

	entryKey   = "session_entry"
	sessionKey = "session"
)

var (
	ErrMissingAuthHeader = errors.New("missing authorization header")
	ErrInvalidAuthFormat = errors.New("invalid authorization header format")
	ErrEmptyToken        = errors.New("empty token")
)

func setSession(c *gin.Context, sessionData *auth.SessionData) {
	c.Set(sessionKey, sessionData)
}

func GetSessionData(c *gin.Context) (*auth.SessionData, bool) {
	session, exists := c.Get(sessionKey)
	if !exists {
		return nil, false
	}

	sessionData, ok := session.(*auth.SessionData)
	return sessionData, ok
}

func getEntry(c *gin.Context) (*sessions.Entry, bool) {
	v, exists := c.Get(entryKey)
	if !exists {
		return nil, false
	}
	entry, ok := v.(*sessions.Entry)
	return entry, ok
}

// currentState is the auth state of the request's session; anonymous
// requests are unauthenticated.
func currentState(c *gin.Context) authstate.State {
	if entry, ok := getEntry(c); ok {
		return entry.Machine.Snapshot()
	}
	return authstate.State{Status: authstate.StatusUnauthenticated}
}

func extractBearerToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingAuthHeader
	}

	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return "", ErrInvalidAuthFormat
	}

	token := strings.TrimPrefix(authHeader, bearerPrefix)
	if token == "" {
		return "", ErrEmptyToken
	}

	return token, nil
}

func respondWithError(c *gin.Context, log zerolog.Logger, statusCode int, err error, message string) {
	log.Warn().Err(err).Msg(message)
	c.JSON(statusCode, gin.H{"error": message})
	c.Abort()
}

// sessionToken finds the session token, preferring the cookie over an
// Authorization header.
func sessionToken(c *gin.Context) (token, method string) {
	if cookie, err := c.Cookie(SessionCookie); err == nil && cookie != "" {
		return cookie, "cookie"
	}
	if token, err := extractBearerToken(c.GetHeader("Authorization")); err == nil {
		return token, "bearer"
	}
	return "", ""
}

// sessionMiddleware resolves the request's session entry, if any, and makes
// sure its auth state has been checked. Requests without a valid session
// continue anonymously.
func (s *Server) sessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, method := sessionToken(c)
		if token == "" {
			c.Next()
			return
		}

		claims, err := auth.ValidateSessionToken(token)
		if err != nil {
			s.logger.Debug().Err(err).Str("auth_method", method).Msg("Invalid session token")
			if method == "cookie" {
				s.clearSessionCookie(c)
			}
			c.Next()
			return
		}

		entry, err := s.registry.Get(c.Request.Context(), claims.SessionID)
		if err != nil {
			if !errors.Is(err, sessions.ErrSessionNotFound) {
				s.logger.Error().Err(err).Str("session_id", claims.SessionID).Msg("Failed to load session")
			}
			if method == "cookie" {
				s.clearSessionCookie(c)
			}
			c.Next()
			return
		}

		state := entry.EnsureChecked(c.Request.Context())
		c.Set(entryKey, entry)
		setSession(c, sessionData(entry.ID, state, method))

		c.Next()
	}
}

func sessionData(id string, state authstate.State, method string) *auth.SessionData {
	data := &auth.SessionData{
		SessionID:  id,
		IsAdmin:    state.IsAdmin,
		AuthMethod: method,
	}
	if state.User != nil {
		data.UserID = state.User.ID
		data.Email = state.User.Email
	}
	return data
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(s.config.Server.SessionTTL/time.Second), "/", "", s.config.Server.CookieSecure, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", s.config.Server.CookieSecure, true)
}

// requireAdminPage sends anyone but an authenticated admin back to "/".
func requireAdminPage() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := currentState(c)
		if !state.IsAuthenticated || !state.IsAdmin {
			c.Redirect(http.StatusFound, "/")
			c.Abort()
			return
		}
		c.Next()
	}
}

// requireAdminAPI is requireAdminPage for JSON clients.
func requireAdminAPI(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		state := currentState(c)
		if !state.IsAuthenticated {
			respondWithError(c, log, http.StatusUnauthorized, errors.New("no session"), "Unauthorized")
			return
		}
		if !state.IsAdmin {
			respondWithError(c, log, http.StatusForbidden, errors.New("not admin"), "Admin access required")
			return
		}
		c.Next()
	}
}

// gateClient hands the admin gate the session's backend client. It returns a
// nil interface for anonymous requests.
func gateClient(c *gin.Context) adminguard.Client {
	entry, ok := getEntry(c)
	if !ok {
		return nil
	}
	return entry.Client
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start)

		event := s.logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		if data, ok := GetSessionData(c); ok {
			event = event.Str("session_id", data.SessionID)
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}
