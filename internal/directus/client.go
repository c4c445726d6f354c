package directus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// refreshSkew is how long before expiry the access token is renewed.
	refreshSkew = 10 * time.Second

	currentUserFields = "id,email,role.id,role.name,role.admin_access"
)

// Observer receives the outcome of every backend request. status is 0 when
// the request never got an answer.
type Observer func(operation string, status int, elapsed time.Duration)

// Client is a REST client for a single Directus session.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      TokenStore
	logger     zerolog.Logger
	observer   Observer
	now        func() time.Time

	refreshMu sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

// WithTokenStore sets where the session's tokens live.
func WithTokenStore(store TokenStore) Option {
	return func(c *Client) { c.store = store }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func WithObserver(observer Observer) Option {
	return func(c *Client) { c.observer = observer }
}

// New creates a client for the backend at baseURL. Without options the
// tokens are kept in memory.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		store:      NewMemoryTokenStore(),
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the backend base URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type authRequest struct {
	Email        string `json:"email,omitempty"`
	Password     string `json:"password,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Mode         string `json:"mode"`
}

type authResponse struct {
	Data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		Expires      int64  `json:"expires"` // milliseconds
	} `json:"data"`
}

func (r authResponse) tokens(now time.Time) Tokens {
	t := Tokens{
		AccessToken:  r.Data.AccessToken,
		RefreshToken: r.Data.RefreshToken,
	}
	if r.Data.Expires > 0 {
		t.ExpiresAt = now.Add(time.Duration(r.Data.Expires) * time.Millisecond)
	}
	return t
}

// Login authenticates with email and password and stores the issued tokens.
func (c *Client) Login(ctx context.Context, email, password string) error {
	var resp authResponse
	err := c.do(ctx, "login", http.MethodPost, "/auth/login", nil,
		authRequest{Email: email, Password: password, Mode: "json"}, false, &resp)
	if err != nil {
		return err
	}
	if resp.Data.AccessToken == "" {
		return errors.New("directus: login response carried no access token")
	}

	if err := c.store.SetTokens(resp.tokens(c.now())); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Refresh exchanges the refresh token for a new token pair.
func (c *Client) Refresh(ctx context.Context) error {
	tokens, err := c.store.Tokens()
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	if tokens.RefreshToken == "" {
		return ErrNoRefreshToken
	}

	var resp authResponse
	err = c.do(ctx, "refresh", http.MethodPost, "/auth/refresh", nil,
		authRequest{RefreshToken: tokens.RefreshToken, Mode: "json"}, false, &resp)
	if err != nil {
		return err
	}

	if err := c.store.SetTokens(resp.tokens(c.now())); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Logout invalidates the session on the backend. The local tokens are
// cleared even when the backend call fails; that failure is still returned.
func (c *Client) Logout(ctx context.Context) error {
	tokens, err := c.store.Tokens()
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}

	var logoutErr error
	if tokens.RefreshToken != "" {
		logoutErr = c.do(ctx, "logout", http.MethodPost, "/auth/logout", nil,
			authRequest{RefreshToken: tokens.RefreshToken, Mode: "json"}, false, nil)
	}

	if err := c.store.ClearTokens(); err != nil {
		return errors.Join(logoutErr, fmt.Errorf("failed to clear tokens: %w", err))
	}
	return logoutErr
}

// ClearTokens forgets the local token pair without contacting the backend.
func (c *Client) ClearTokens() error {
	return c.store.ClearTokens()
}

// IsAuthenticated reports whether an access token is held. It never fails:
// a store error counts as not authenticated.
func (c *Client) IsAuthenticated() bool {
	tokens, err := c.store.Tokens()
	if err != nil {
		c.logger.Debug().Err(err).Msg("Token store unavailable, treating session as unauthenticated")
		return false
	}
	return !tokens.Empty()
}

// AccessToken returns a valid access token, refreshing it first when it is
// about to expire.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	tokens, err := c.store.Tokens()
	if err != nil {
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}
	if tokens.Empty() {
		return "", ErrNotAuthenticated
	}
	if !tokens.ExpiresWithin(c.now(), refreshSkew) || tokens.RefreshToken == "" {
		return tokens.AccessToken, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another request may have refreshed while we waited.
	tokens, err = c.store.Tokens()
	if err != nil {
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}
	if tokens.Empty() {
		return "", ErrNotAuthenticated
	}
	if !tokens.ExpiresWithin(c.now(), refreshSkew) {
		return tokens.AccessToken, nil
	}

	if err := c.Refresh(ctx); err != nil {
		return "", fmt.Errorf("failed to refresh access token: %w", err)
	}
	tokens, err = c.store.Tokens()
	if err != nil {
		return "", fmt.Errorf("failed to load tokens: %w", err)
	}
	return tokens.AccessToken, nil
}

// FetchCurrentUser returns the identity of the session's user.
func (c *Client) FetchCurrentUser(ctx context.Context) (*User, error) {
	query := url.Values{}
	query.Set("fields", currentUserFields)

	var raw json.RawMessage
	if err := c.do(ctx, "users.me", http.MethodGet, "/users/me", query, nil, true, &raw); err != nil {
		return nil, err
	}
	return decodeUser(raw)
}

// FetchPoliciesGlobals returns the session's effective global permissions.
func (c *Client) FetchPoliciesGlobals(ctx context.Context) (*PoliciesGlobals, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "policies.me", http.MethodGet, "/policies/me/globals", nil, nil, true, &raw); err != nil {
		return nil, err
	}

	payload, err := unwrapData(raw)
	if err != nil {
		return nil, err
	}
	var globals PoliciesGlobals
	if err := json.Unmarshal(payload, &globals); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	return &globals, nil
}

// ReadItems lists records of a collection.
func (c *Client) ReadItems(ctx context.Context, collection string, q Query) ([]Item, error) {
	return c.readList(ctx, "items.read", "/items/"+url.PathEscape(collection), q)
}

// ReadFiles lists records of the files collection.
func (c *Client) ReadFiles(ctx context.Context, q Query) ([]Item, error) {
	return c.readList(ctx, "files.read", "/files", q)
}

func (c *Client) readList(ctx context.Context, op, path string, q Query) ([]Item, error) {
	values, err := q.Values()
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data []Item `json:"data"`
	}
	if err := c.do(ctx, op, http.MethodGet, path, values, nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UpdateItems sets the same field values on every record in ids.
func (c *Client) UpdateItems(ctx context.Context, collection string, ids []string, data map[string]any) error {
	body := map[string]any{
		"keys": ids,
		"data": data,
	}
	return c.do(ctx, "items.update", http.MethodPatch, "/items/"+url.PathEscape(collection), nil, body, true, nil)
}

// AssetURL is the path the backend serves a file's content under.
func (c *Client) AssetURL(fileID string) string {
	return "/assets/" + fileID
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, auth bool, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, err := c.AccessToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(op, 0, time.Since(start))
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	c.observe(op, resp.StatusCode, time.Since(start))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, respBody)
		c.logger.Debug().
			Str("operation", op).
			Int("status", resp.StatusCode).
			Str("message", apiErr.Message()).
			Msg("Directus request failed")
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := decodeJSON(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) observe(op string, status int, elapsed time.Duration) {
	if c.observer != nil {
		c.observer(op, status, elapsed)
	}
}
