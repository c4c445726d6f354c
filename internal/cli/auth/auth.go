package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zalando/go-keyring"

	"github.com/planboo/photoreview/internal/directus"
)

const (
	service = "photoreview-cli"
)

// getKeyringKey returns a unique key for storing tokens per Directus host
func getKeyringKey(host string) string {
	return fmt.Sprintf("directus-%s", host)
}

type storedTokens struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// TokenStore keeps the Directus tokens of one host in the OS
// keychain/credential manager.
type TokenStore struct {
	host string
}

var _ directus.TokenStore = (*TokenStore)(nil)

func NewTokenStore(host string) *TokenStore {
	return &TokenStore{host: host}
}

// Tokens loads the stored tokens. A host never logged in to has none.
func (s *TokenStore) Tokens() (directus.Tokens, error) {
	raw, err := keyring.Get(service, getKeyringKey(s.host))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return directus.Tokens{}, nil
		}
		return directus.Tokens{}, fmt.Errorf("failed to load token: %w", err)
	}

	var stored storedTokens
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return directus.Tokens{}, fmt.Errorf("failed to decode stored token: %w", err)
	}
	return directus.Tokens{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    stored.ExpiresAt,
	}, nil
}

// SetTokens persists the tokens securely
func (s *TokenStore) SetTokens(tokens directus.Tokens) error {
	raw, err := json.Marshal(storedTokens{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}
	if err := keyring.Set(service, getKeyringKey(s.host), string(raw)); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// ClearTokens removes the tokens from the keychain
func (s *TokenStore) ClearTokens() error {
	if err := keyring.Delete(service, getKeyringKey(s.host)); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
