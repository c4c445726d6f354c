package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/planboo/photoreview/internal/auth"
	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/sessions"
)

// LoginForm is the sign-in form
type LoginForm struct {
	Email    string `form:"email" binding:"required,email"`
	Password string `form:"password" binding:"required"`
}

// landingPath is where a session belongs: admins review photos, other
// users get the home page, everyone else signs in.
func landingPath(state authstate.State) string {
	switch {
	case state.IsAuthenticated && state.IsAdmin:
		return "/photos"
	case state.IsAuthenticated:
		return "/home"
	default:
		return "/login"
	}
}

func navFor(state authstate.State) navParams {
	nav := navParams{
		Authenticated: state.IsAuthenticated,
		IsAdmin:       state.IsAdmin,
	}
	if state.User != nil {
		nav.Email = state.User.Email
	}
	return nav
}

func (s *Server) landing(c *gin.Context) {
	c.Redirect(http.StatusFound, landingPath(currentState(c)))
}

func (s *Server) loginPage(c *gin.Context) {
	state := currentState(c)
	if state.IsAuthenticated {
		c.Redirect(http.StatusFound, landingPath(state))
		return
	}
	s.render(c, http.StatusOK, loginTemplate, loginParams{Nav: navFor(state)})
}

func (s *Server) login(c *gin.Context) {
	var form LoginForm
	if err := c.ShouldBind(&form); err != nil {
		s.render(c, http.StatusBadRequest, loginTemplate, loginParams{
			Nav:   navFor(currentState(c)),
			Email: form.Email,
			Error: loginFormError(err),
		})
		return
	}

	ctx := c.Request.Context()
	entry, existing := getEntry(c)
	if !existing {
		created, err := s.registry.Create(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to create session")
			s.render(c, http.StatusInternalServerError, loginTemplate, loginParams{Email: form.Email, Error: "Login failed"})
			return
		}
		entry = created
	}

	if err := entry.Machine.Login(ctx, form.Email, form.Password); err != nil {
		state := entry.Machine.Snapshot()
		if !existing {
			s.discard(c, entry)
		}
		s.render(c, http.StatusUnauthorized, loginTemplate, loginParams{
			Nav:   navFor(state),
			Email: form.Email,
			Error: state.Error,
		})
		return
	}

	if !existing {
		token, err := auth.GenerateSessionToken(entry.ID, s.config.Server.SessionTTL)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to generate session token")
			entry.Machine.Logout(ctx)
			s.discard(c, entry)
			s.render(c, http.StatusInternalServerError, loginTemplate, loginParams{Email: form.Email, Error: "Login failed"})
			return
		}
		s.setSessionCookie(c, token)
	}
	entry.MarkChecked()

	c.Redirect(http.StatusSeeOther, landingPath(entry.Machine.Snapshot()))
}

func (s *Server) loginThrottled(c *gin.Context) {
	s.render(c, http.StatusTooManyRequests, loginTemplate, loginParams{
		Nav:   navFor(currentState(c)),
		Error: "Too many login attempts. Please wait a moment and try again.",
	})
}

func loginFormError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid login form"
	}

	fe := verrs[0]
	switch {
	case fe.Field() == "Email" && fe.Tag() == "required":
		return "Email is required"
	case fe.Field() == "Email":
		return "Email is invalid"
	case fe.Field() == "Password":
		return "Password is required"
	default:
		return "Invalid login form"
	}
}

func (s *Server) logout(c *gin.Context) {
	if entry, ok := getEntry(c); ok {
		entry.Machine.Logout(c.Request.Context())
		s.discard(c, entry)
	}
	s.clearSessionCookie(c)
	c.Redirect(http.StatusSeeOther, "/login")
}

// discard drops a session once its pending effects have run.
func (s *Server) discard(c *gin.Context, entry *sessions.Entry) {
	entry.Machine.WaitEffects()
	if err := s.registry.Discard(c.Request.Context(), entry.ID); err != nil {
		s.logger.Warn().Err(err).Str("session_id", entry.ID).Msg("Failed to discard session")
	}
}

func (s *Server) home(c *gin.Context) {
	state := currentState(c)
	params := homeParams{
		Nav:           navFor(state),
		Authenticated: state.IsAuthenticated,
		IsAdmin:       state.IsAdmin,
	}
	if state.User != nil {
		params.Email = state.User.Email
		params.UserID = state.User.ID
	}
	s.render(c, http.StatusOK, homeTemplate, params)
}
