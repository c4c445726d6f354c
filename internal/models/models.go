package models

import (
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// BaseModel provides common fields and auto-generated ULID for all models
type BaseModel struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(26)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate generates a ULID for the ID field if it's empty
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = ulid.Make().String()
	}
	return nil
}

// Config is the singleton row holding instance-wide settings
type Config struct {
	BaseModel
	SessionSecret string `json:"-" gorm:"type:varchar(64);not null"` // Auto-generated on first start (64 hex chars)
}

// Session is one browser session and the Directus tokens it holds
type Session struct {
	BaseModel
	AccessToken    string     `json:"-" gorm:"type:text"`
	RefreshToken   string     `json:"-" gorm:"type:text"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`

	// Identity of the signed-in user, for logs and listings
	UserID string `json:"user_id"`
	Email  string `json:"email"`

	LastSeenAt time.Time `json:"last_seen_at" gorm:"index;not null"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// AutoMigrate runs database migrations for all models
func AutoMigrate(db *gorm.DB) error {
	models := []interface{}{
		&Config{}, &Session{},
	}

	return db.AutoMigrate(models...)
}

// FindByID safely finds a record by string ID
func FindByID[T any](db *gorm.DB, id string, model *T) error {
	return db.Where("id = ?", id).First(model).Error
}
