package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/planboo/photoreview/internal/directus"
	"github.com/planboo/photoreview/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Store persists sessions in the application database.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// LoadOrCreateSecret returns the session signing secret, generating and
// persisting one on first start.
func LoadOrCreateSecret(db *gorm.DB) (string, error) {
	var config models.Config
	err := db.First(&config).Error
	if err == nil {
		return config.SessionSecret, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("failed to load config: %w", err)
	}

	// 64 hex characters = 32 bytes of randomness
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	config = models.Config{SessionSecret: hex.EncodeToString(secretBytes)}
	if err := db.Create(&config).Error; err != nil {
		return "", fmt.Errorf("failed to save config: %w", err)
	}
	return config.SessionSecret, nil
}

func (s *Store) Create(ctx context.Context) (*models.Session, error) {
	session := models.Session{LastSeenAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &session, nil
}

func (s *Store) Get(ctx context.Context, id string) (*models.Session, error) {
	var session models.Session
	if err := models.FindByID(s.db.WithContext(ctx), id, &session); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return &session, nil
}

// Touch records activity on the session.
func (s *Store) Touch(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ?", id).
		Update("last_seen_at", s.now()).Error
}

// SetIdentity records who the session belongs to.
func (s *Store) SetIdentity(ctx context.Context, id string, user *directus.User) error {
	updates := map[string]interface{}{"user_id": "", "email": ""}
	if user != nil {
		updates["user_id"] = user.ID
		updates["email"] = user.Email
	}
	return s.db.WithContext(ctx).Model(&models.Session{}).Where("id = ?", id).Updates(updates).Error
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Session{}).Error
}

// DeleteIdle removes sessions not seen since before and returns their ids.
func (s *Store) DeleteIdle(ctx context.Context, before time.Time) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).Where("last_seen_at < ?", before).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Where("id IN ?", ids).Delete(&models.Session{}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	return ids, nil
}

// TokenStore returns a directus.TokenStore backed by the session row.
func (s *Store) TokenStore(id string) directus.TokenStore {
	return &tokenStore{db: s.db, id: id}
}

type tokenStore struct {
	db *gorm.DB
	id string
}

func (t *tokenStore) Tokens() (directus.Tokens, error) {
	var session models.Session
	err := models.FindByID(t.db, t.id, &session)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return directus.Tokens{}, nil
	}
	if err != nil {
		return directus.Tokens{}, fmt.Errorf("failed to load session tokens: %w", err)
	}

	tokens := directus.Tokens{
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
	}
	if session.TokenExpiresAt != nil {
		tokens.ExpiresAt = *session.TokenExpiresAt
	}
	return tokens, nil
}

func (t *tokenStore) SetTokens(tokens directus.Tokens) error {
	var expiresAt *time.Time
	if !tokens.ExpiresAt.IsZero() {
		e := tokens.ExpiresAt
		expiresAt = &e
	}
	return t.db.Model(&models.Session{}).Where("id = ?", t.id).Updates(map[string]interface{}{
		"access_token":     tokens.AccessToken,
		"refresh_token":    tokens.RefreshToken,
		"token_expires_at": expiresAt,
	}).Error
}

func (t *tokenStore) ClearTokens() error {
	return t.SetTokens(directus.Tokens{})
}
