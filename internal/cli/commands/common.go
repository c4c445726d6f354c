package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/planboo/photoreview/internal/adminguard"
	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/cli/auth"
	"github.com/planboo/photoreview/internal/cli/userconfig"
	"github.com/planboo/photoreview/internal/config"
	"github.com/planboo/photoreview/internal/directus"
	"github.com/planboo/photoreview/internal/photos"
)

const requestTimeout = 30 * time.Second

// Globals holds the persistent flags shared by every command.
type Globals struct {
	DirectusURL string
	Verbose     bool
}

// Logger writes diagnostics to stderr. Only warnings unless --verbose.
func (g *Globals) Logger() zerolog.Logger {
	level := zerolog.WarnLevel
	if g.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// resolveDirectusURL determines the backend based on the following priority:
// 1. The --url flag
// 2. The DIRECTUS_URL environment variable
// 3. The backend of the last successful login
func resolveDirectusURL(flagValue string) (string, error) {
	raw := flagValue
	if raw == "" {
		raw = os.Getenv("DIRECTUS_URL")
	}
	if raw == "" {
		remembered, err := userconfig.GetDirectusURL()
		if err != nil {
			return "", err
		}
		raw = remembered
	}
	if raw == "" {
		return "", fmt.Errorf("no Directus URL configured (use --url flag or DIRECTUS_URL env var)")
	}

	normalized, ok := config.NormalizeURL(raw)
	if !ok {
		return "", fmt.Errorf("invalid Directus URL %q", raw)
	}
	return normalized, nil
}

// session is one authenticated conversation with a Directus backend. Tokens
// live in the OS keychain, keyed by host.
type session struct {
	url     string
	client  *directus.Client
	policy  authstate.AdminPolicy
	machine *authstate.Machine
	photos  *photos.Service
	logger  zerolog.Logger
}

func openSession(g *Globals) (*session, error) {
	directusURL, err := resolveDirectusURL(g.DirectusURL)
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(directusURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Directus URL: %w", err)
	}

	logger := g.Logger()
	client := directus.New(directusURL,
		directus.WithHTTPClient(&http.Client{Timeout: requestTimeout}),
		directus.WithTokenStore(auth.NewTokenStore(u.Host)),
		directus.WithLogger(logger),
	)
	policy := authstate.NewAdminPolicy(config.AdminRoleIDs()...)

	fieldMaps, err := photos.LoadFieldMaps(strings.TrimSpace(os.Getenv("PHOTO_FIELD_MAP_FILE")))
	if err != nil {
		return nil, err
	}

	return &session{
		url:     directusURL,
		client:  client,
		policy:  policy,
		machine: authstate.NewMachine(client, policy, authstate.WithLogger(logger)),
		photos:  photos.NewService(client, fieldMaps),
		logger:  logger,
	}, nil
}

// requireAdmin re-verifies admin access with the backend before any photo
// operation.
func (s *session) requireAdmin(ctx context.Context) error {
	if !s.client.IsAuthenticated() {
		return errNotLoggedIn
	}
	if adminguard.New(s.policy, s.logger).Check(ctx, s.client) != adminguard.StatusAuthorized {
		return fmt.Errorf("admin access required for photo review")
	}
	return nil
}

var errNotLoggedIn = errors.New("not authenticated. Please run 'photoreview login' first")
