package directus

import (
	"sync"
	"time"
)

// Tokens is the access/refresh pair issued by /auth/login and /auth/refresh.
type Tokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Empty reports whether no access token is held.
func (t Tokens) Empty() bool {
	return t.AccessToken == ""
}

// ExpiresWithin reports whether the access token expires before now+d.
// Tokens without a known expiry never expire.
func (t Tokens) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !t.ExpiresAt.IsZero() && now.Add(d).After(t.ExpiresAt)
}

// TokenStore persists the session's token pair.
type TokenStore interface {
	Tokens() (Tokens, error)
	SetTokens(Tokens) error
	ClearTokens() error
}

// MemoryTokenStore keeps tokens for the lifetime of the process.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens Tokens
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (m *MemoryTokenStore) Tokens() (Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens, nil
}

func (m *MemoryTokenStore) SetTokens(t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = t
	return nil
}

func (m *MemoryTokenStore) ClearTokens() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = Tokens{}
	return nil
}
