package sessions

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/directus"
	"github.com/planboo/photoreview/internal/photos"
	"github.com/planboo/photoreview/internal/realtime"
)

// touchInterval limits how often activity is written back for a session.
const touchInterval = time.Minute

// Options holds what every session's collaborators are built from.
type Options struct {
	DirectusURL string
	HTTPClient  *http.Client
	Policy      authstate.AdminPolicy
	Realtime    realtime.Options
	FieldMaps   photos.FieldMaps
	Observer    directus.Observer
	Logger      zerolog.Logger

	// RecheckInterval is how long a settled auth state is trusted before
	// the tokens are verified again. 0 verifies on every request.
	RecheckInterval time.Duration
}

// Entry is the live state of one browser session.
type Entry struct {
	ID       string
	Client   *directus.Client
	Machine  *authstate.Machine
	Realtime *realtime.Client
	Photos   *photos.Service

	recheck time.Duration
	now     func() time.Time
	logger  zerolog.Logger

	mu        sync.Mutex
	lastTouch time.Time

	checkMu   sync.Mutex
	checkedAt time.Time
	// rejected is set when the backend answers 401 to any call but login.
	rejected atomic.Bool
}

// EnsureChecked settles the session's auth state. The check runs for a new
// session, once the last one is older than the recheck interval, and after
// the backend rejected the tokens. Tokens rejected by the check are dropped.
func (e *Entry) EnsureChecked(ctx context.Context) authstate.State {
	e.checkMu.Lock()
	defer e.checkMu.Unlock()

	state := e.Machine.Snapshot()
	if !e.needsCheck(state) {
		return state
	}

	e.rejected.Store(false)
	state = e.Machine.CheckAuth(ctx)
	e.checkedAt = e.now()

	if !state.IsAuthenticated && e.rejected.Swap(false) {
		if err := e.Client.ClearTokens(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to drop rejected tokens")
		}
	}
	return state
}

// MarkChecked records that the auth state was settled by the backend just
// now, as a login does.
func (e *Entry) MarkChecked() {
	e.checkMu.Lock()
	e.checkedAt = e.now()
	e.checkMu.Unlock()
}

func (e *Entry) needsCheck(state authstate.State) bool {
	switch {
	case state.Status == authstate.StatusIdle:
		return true
	case !state.Settled():
		// login in flight
		return false
	case e.rejected.Load():
		return true
	case !state.IsAuthenticated && !e.Client.IsAuthenticated():
		return false
	}
	return e.recheck <= 0 || e.now().Sub(e.checkedAt) >= e.recheck
}

// Registry owns the live entries, building them lazily from stored sessions.
type Registry struct {
	store  *Store
	opts   Options
	logger zerolog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

func NewRegistry(store *Store, opts Options) *Registry {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.FieldMaps == nil {
		opts.FieldMaps = photos.DefaultFieldMaps()
	}
	return &Registry{
		store:   store,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "sessions").Logger(),
		entries: make(map[string]*Entry),
	}
}

func (r *Registry) Store() *Store {
	return r.store
}

// Create starts a new session.
func (r *Registry) Create(ctx context.Context) (*Entry, error) {
	session, err := r.store.Create(ctx)
	if err != nil {
		return nil, err
	}

	entry, err := r.build(session.ID)
	if err != nil {
		_ = r.store.Delete(ctx, session.ID)
		return nil, err
	}
	entry.lastTouch = session.LastSeenAt

	r.mu.Lock()
	r.entries[session.ID] = entry
	r.mu.Unlock()
	return entry, nil
}

// Get returns the live entry for id, rebuilding it from the store when this
// process has not seen it yet.
func (r *Registry) Get(ctx context.Context, id string) (*Entry, error) {
	r.mu.Lock()
	entry, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		if _, err := r.store.Get(ctx, id); err != nil {
			return nil, err
		}
		built, err := r.build(id)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		if existing, ok := r.entries[id]; ok {
			entry = existing
		} else {
			r.entries[id] = built
			entry = built
		}
		r.mu.Unlock()
	}

	r.touch(ctx, entry)
	return entry, nil
}

// Discard ends a session: its realtime channel is closed and its row removed.
func (r *Registry) Discard(ctx context.Context, id string) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	if ok {
		if err := entry.Realtime.Disconnect(ctx); err != nil {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to close realtime channel")
		}
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Sweep discards sessions idle for longer than idle and returns how many
// were removed.
func (r *Registry) Sweep(ctx context.Context, idle time.Duration) (int, error) {
	ids, err := r.store.DeleteIdle(ctx, r.store.now().Add(-idle))
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		r.mu.Lock()
		entry, ok := r.entries[id]
		delete(r.entries, id)
		r.mu.Unlock()

		if ok {
			if err := entry.Realtime.Disconnect(ctx); err != nil {
				r.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to close realtime channel")
			}
		}
	}
	return len(ids), nil
}

// Len is the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close disconnects every live realtime channel.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.Unlock()

	for _, e := range entries {
		_ = e.Realtime.Disconnect(ctx)
	}
}

func (r *Registry) build(id string) (*Entry, error) {
	logger := r.opts.Logger.With().Str("session_id", id).Logger()

	entry := &Entry{
		ID:      id,
		recheck: r.opts.RecheckInterval,
		now:     func() time.Time { return r.store.now() },
		logger:  logger,
	}

	observer := func(op string, status int, elapsed time.Duration) {
		if status == http.StatusUnauthorized && op != "login" {
			entry.rejected.Store(true)
		}
		if r.opts.Observer != nil {
			r.opts.Observer(op, status, elapsed)
		}
	}

	client := directus.New(r.opts.DirectusURL,
		directus.WithHTTPClient(r.opts.HTTPClient),
		directus.WithTokenStore(r.store.TokenStore(id)),
		directus.WithLogger(logger),
		directus.WithObserver(observer),
	)

	rtOpts := r.opts.Realtime
	rtOpts.Logger = logger
	rt, err := realtime.New(r.opts.DirectusURL, client, rtOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create realtime client: %w", err)
	}

	entry.Client = client
	entry.Realtime = rt
	entry.Photos = photos.NewService(client, r.opts.FieldMaps)
	entry.Machine = authstate.NewMachine(client, r.opts.Policy,
		authstate.WithLogger(logger),
		authstate.WithRealtime(rt),
		authstate.WithEffect(r.identityEffect(id)),
	)

	return entry, nil
}

// identityEffect keeps the stored identity in step with the auth state.
func (r *Registry) identityEffect(id string) authstate.Effect {
	return func(ctx context.Context, from, to authstate.State) {
		if !to.Settled() || from.IsAuthenticated == to.IsAuthenticated && from.User == to.User {
			return
		}
		if err := r.store.SetIdentity(ctx, id, to.User); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to record session identity")
		}
	}
}

func (r *Registry) touch(ctx context.Context, e *Entry) {
	now := r.store.now()

	e.mu.Lock()
	due := now.Sub(e.lastTouch) >= touchInterval
	if due {
		e.lastTouch = now
	}
	e.mu.Unlock()

	if !due {
		return
	}
	if err := r.store.Touch(ctx, e.ID); err != nil {
		r.logger.Warn().Err(err).Str("session_id", e.ID).Msg("Failed to record session activity")
	}
}
