package photos

import (
	"fmt"
	"strings"
)

// Source is the backend collection a photo record lives in.
type Source string

const (
	SourceCooks    Source = "cooks"
	SourceMixtures Source = "mixtures"
	SourceFields   Source = "fields"
)

// Sources lists the collections in the order their photos are presented.
var Sources = []Source{SourceCooks, SourceMixtures, SourceFields}

func (s Source) Valid() bool {
	for _, known := range Sources {
		if s == known {
			return true
		}
	}
	return false
}

type PhotoType string

const (
	TypeCook    PhotoType = "cook"
	TypeMixture PhotoType = "mixture"
	TypeField   PhotoType = "field"
)

// NormalizedPhoto is a photo record in the shape shared by all collections.
type NormalizedPhoto struct {
	ID           string    `json:"id"`
	Source       Source    `json:"source"`
	Type         PhotoType `json:"type"`
	Name         string    `json:"name,omitempty"`
	FileID       string    `json:"fileId"`
	FileURL      string    `json:"fileUrl,omitempty"`
	ProjectID    string    `json:"projectId,omitempty"`
	Company      string    `json:"company,omitempty"`
	DateCreated  string    `json:"dateCreated,omitempty"`
	CommentField string    `json:"commentField,omitempty"`
}

// Key identifies the photo across collections as "source:id".
func (p NormalizedPhoto) Key() string {
	return string(p.Source) + ":" + p.ID
}

// Ref returns what BulkUpdateComments needs to address the record.
func (p NormalizedPhoto) Ref() ItemRef {
	return ItemRef{ID: p.ID, Source: p.Source, CommentField: p.CommentField}
}

// ItemRef addresses one record for a comment update.
type ItemRef struct {
	ID           string `json:"id" validate:"required"`
	Source       Source `json:"source" validate:"required,oneof=cooks mixtures fields"`
	CommentField string `json:"commentField,omitempty"`
}

// ParseItemRef parses a "source:id" key.
func ParseItemRef(key string) (ItemRef, error) {
	source, id, ok := strings.Cut(strings.TrimSpace(key), ":")
	if !ok || id == "" {
		return ItemRef{}, fmt.Errorf("invalid item %q: expected source:id", key)
	}
	if !Source(source).Valid() {
		return ItemRef{}, fmt.Errorf("invalid item %q: unknown collection %q", key, source)
	}
	return ItemRef{ID: id, Source: Source(source)}, nil
}
