package collectionselect

import (
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"

	"github.com/planboo/photoreview/internal/photos"
)

// ResolveCollections determines which collections to use based on the following priority:
// 1. If a collection is named, use that collection
// 2. If a terminal is attached, prompt the user to pick one (or all)
// 3. Otherwise, use every photo collection
func ResolveCollections(name string, interactive bool) ([]photos.Source, error) {
	// Priority 1: Use the named collection
	if name != "" {
		source, err := GetCollection(name)
		if err != nil {
			return nil, err
		}
		return []photos.Source{source}, nil
	}

	// Priority 2: Ask
	if interactive {
		return PromptCollectionSelection()
	}

	// Priority 3: Everything
	return append([]photos.Source(nil), photos.Sources...), nil
}

// GetCollection finds a photo collection by name
func GetCollection(name string) (photos.Source, error) {
	source := photos.Source(strings.ToLower(strings.TrimSpace(name)))
	if !source.Valid() {
		names := make([]string, len(photos.Sources))
		for i, s := range photos.Sources {
			names[i] = string(s)
		}
		return "", fmt.Errorf("unknown collection '%s' (expected one of: %s)", name, strings.Join(names, ", "))
	}
	return source, nil
}

// PromptCollectionSelection shows an interactive prompt for the user to select a collection
func PromptCollectionSelection() ([]photos.Source, error) {
	type collectionOption struct {
		Label   string
		Sources []photos.Source
	}

	options := []collectionOption{{Label: "all collections", Sources: photos.Sources}}
	for _, source := range photos.Sources {
		options = append(options, collectionOption{
			Label:   string(source),
			Sources: []photos.Source{source},
		})
	}

	templates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "> {{ .Label | cyan }}",
		Inactive: "  {{ .Label }}",
		Selected: "{{ .Label | green }}",
	}

	prompt := promptui.Select{
		Label:     "Select a collection to watch",
		Items:     options,
		Templates: templates,
		Size:      10,
	}

	index, _, err := prompt.Run()
	if err != nil {
		return nil, fmt.Errorf("collection selection cancelled: %w", err)
	}

	return append([]photos.Source(nil), options[index].Sources...), nil
}
