package authstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/planboo/photoreview/internal/directus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	loginFailed   = "Login failed"
	effectTimeout = 15 * time.Second
)

// AuthClient is the backend surface the machine drives.
type AuthClient interface {
	IsAuthenticated() bool
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
	FetchCurrentUser(ctx context.Context) (*directus.User, error)
	FetchPoliciesGlobals(ctx context.Context) (*directus.PoliciesGlobals, error)
}

// RealtimeLink is the channel held open while a session is authenticated.
type RealtimeLink interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
}

// Effect runs after a transition, off the caller's goroutine. Effects run one
// at a time in transition order.
type Effect func(ctx context.Context, from, to State)

type Machine struct {
	client AuthClient
	policy AdminPolicy
	link   RealtimeLink
	logger zerolog.Logger

	// opMu serializes check, login and logout.
	opMu sync.Mutex

	mu    sync.RWMutex
	state State

	effects   []Effect
	effectMu  sync.Mutex
	pending   []transition
	running   bool
	effectsWG sync.WaitGroup
}

type transition struct {
	from, to State
	done     chan struct{}
}

type Option func(*Machine)

func WithLogger(logger zerolog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

// WithRealtime opens link when the session becomes authenticated and closes it
// when it stops being authenticated.
func WithRealtime(link RealtimeLink) Option {
	return func(m *Machine) { m.link = link }
}

func WithEffect(effect Effect) Option {
	return func(m *Machine) { m.effects = append(m.effects, effect) }
}

func NewMachine(client AuthClient, policy AdminPolicy, opts ...Option) *Machine {
	m := &Machine{
		client: client,
		policy: policy,
		logger: zerolog.Nop(),
		state:  State{Status: StatusIdle},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With().Str("component", "authstate").Logger()
	if m.link != nil {
		m.effects = append([]Effect{RealtimeEffect(m.link, m.logger)}, m.effects...)
	}
	return m
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// CheckAuth settles the session from the held token. Failures are not
// returned; they settle in unauthenticated.
func (m *Machine) CheckAuth(ctx context.Context) State {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.dispatch(Action{Type: ActionCheckStart})

	if !m.client.IsAuthenticated() {
		return m.dispatch(Action{Type: ActionCheckFailure})
	}

	user, isAdmin, err := m.resolveIdentity(ctx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Auth check failed")
		return m.dispatch(Action{Type: ActionCheckFailure})
	}
	return m.dispatch(Action{Type: ActionCheckSuccess, User: user, IsAdmin: isAdmin})
}

// Login authenticates and derives admin access. On failure the state carries
// a readable message and the error is returned.
func (m *Machine) Login(ctx context.Context, email, password string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.dispatch(Action{Type: ActionLoginStart})

	if err := m.client.Login(ctx, email, password); err != nil {
		m.logger.Info().Err(err).Str("email", email).Msg("Login rejected")
		m.dispatch(Action{Type: ActionLoginFailure, Error: LoginErrorMessage(err)})
		return err
	}

	user, isAdmin, err := m.resolveIdentity(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Str("email", email).Msg("Login succeeded but identity could not be loaded")
		m.dispatch(Action{Type: ActionLoginFailure, Error: LoginErrorMessage(err)})
		return err
	}

	m.dispatch(Action{Type: ActionLoginSuccess, User: user, IsAdmin: isAdmin})
	m.logger.Info().Str("user_id", user.ID).Bool("admin", isAdmin).Msg("User logged in")
	return nil
}

// Logout always ends unauthenticated, whatever the backend answers.
func (m *Machine) Logout(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	// Leaving the authenticated state closes the realtime channel; wait for
	// that before the backend session ends.
	done := make(chan struct{})
	m.apply(Action{Type: ActionLogout}, done)
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := m.client.Logout(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Backend logout failed")
	}
}

// WaitEffects blocks until every scheduled effect has run.
func (m *Machine) WaitEffects() {
	m.effectsWG.Wait()
}

// resolveIdentity fetches the user and policies in parallel. Only the user
// is required; without policies the role decides.
func (m *Machine) resolveIdentity(ctx context.Context) (*directus.User, bool, error) {
	var (
		user     *directus.User
		policies *directus.PoliciesGlobals
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := m.client.FetchCurrentUser(gctx)
		if err != nil {
			return fmt.Errorf("failed to fetch current user: %w", err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		p, err := m.client.FetchPoliciesGlobals(gctx)
		if err != nil {
			m.logger.Debug().Err(err).Msg("Policies unavailable, falling back to role")
			return nil
		}
		policies = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	return user, m.policy.IsAdmin(user, policies), nil
}

func (m *Machine) dispatch(action Action) State {
	return m.apply(action, nil)
}

// apply reduces action into the state. done, when set, is closed once the
// effects of the transition have run, or right away if there are none.
func (m *Machine) apply(action Action, done chan struct{}) State {
	m.mu.Lock()
	from := m.state
	to := Reduce(from, action)
	m.state = to
	m.mu.Unlock()

	if from.Status != to.Status && len(m.effects) > 0 {
		m.schedule(transition{from: from, to: to, done: done})
		return to
	}
	if done != nil {
		close(done)
	}
	return to
}

func (m *Machine) schedule(t transition) {
	m.effectMu.Lock()
	defer m.effectMu.Unlock()

	m.effectsWG.Add(1)
	m.pending = append(m.pending, t)
	if m.running {
		return
	}
	m.running = true
	go m.runEffects()
}

func (m *Machine) runEffects() {
	for {
		m.effectMu.Lock()
		if len(m.pending) == 0 {
			m.running = false
			m.effectMu.Unlock()
			return
		}
		t := m.pending[0]
		m.pending = m.pending[1:]
		m.effectMu.Unlock()

		for _, effect := range m.effects {
			ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
			effect(ctx, t.from, t.to)
			cancel()
		}
		if t.done != nil {
			close(t.done)
		}
		m.effectsWG.Done()
	}
}

// RealtimeEffect connects link on entering an authenticated state and
// disconnects it on leaving one. Failures are logged only.
func RealtimeEffect(link RealtimeLink, logger zerolog.Logger) Effect {
	return func(ctx context.Context, from, to State) {
		switch {
		case to.IsAuthenticated && !from.IsAuthenticated:
			if err := link.Connect(ctx); err != nil {
				logger.Warn().Err(err).Msg("Failed to open realtime channel")
			}
		case from.IsAuthenticated && !to.IsAuthenticated:
			if err := link.Disconnect(ctx); err != nil {
				logger.Warn().Err(err).Msg("Failed to close realtime channel")
			}
		}
	}
}

// LoginErrorMessage turns a login failure into text for the login form.
func LoginErrorMessage(err error) string {
	var apiErr *directus.Error
	if errors.As(err, &apiErr) && apiErr.Message() != "" {
		return loginFailed + ": " + apiErr.Message()
	}
	return loginFailed
}
