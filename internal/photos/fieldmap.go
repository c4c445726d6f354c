package photos

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FieldMap names the fields of one collection that hold each photo attribute.
type FieldMap struct {
	File        string `yaml:"file"`
	Comment     string `yaml:"comment"`
	ProjectID   string `yaml:"project_id"`
	Company     string `yaml:"company"`
	Name        string `yaml:"name"`
	DateCreated string `yaml:"date_created"`
	Type        string `yaml:"type"`
}

type FieldMaps map[Source]FieldMap

func defaultFieldMap(comment string) FieldMap {
	return FieldMap{
		File:        "photo",
		Comment:     comment,
		ProjectID:   "project_id",
		Company:     "company",
		Name:        "name",
		DateCreated: "date_created",
		Type:        "type",
	}
}

func DefaultFieldMaps() FieldMaps {
	return FieldMaps{
		SourceCooks:    defaultFieldMap("cook_comment"),
		SourceMixtures: defaultFieldMap("mixture_comment"),
		SourceFields:   defaultFieldMap("field_comment"),
	}
}

// LoadFieldMaps reads per-collection overrides from a YAML file keyed by
// collection name. Fields left out keep their defaults. An empty path returns
// the defaults.
func LoadFieldMaps(path string) (FieldMaps, error) {
	maps := DefaultFieldMaps()
	if path == "" {
		return maps, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field map: %w", err)
	}

	var overrides map[string]FieldMap
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse field map: %w", err)
	}

	for name, o := range overrides {
		source := Source(name)
		if !source.Valid() {
			return nil, fmt.Errorf("field map: unknown collection %q", name)
		}
		maps[source] = maps[source].merge(o)
	}
	return maps, nil
}

func (m FieldMap) merge(o FieldMap) FieldMap {
	pick := func(base, override string) string {
		if override != "" {
			return override
		}
		return base
	}
	return FieldMap{
		File:        pick(m.File, o.File),
		Comment:     pick(m.Comment, o.Comment),
		ProjectID:   pick(m.ProjectID, o.ProjectID),
		Company:     pick(m.Company, o.Company),
		Name:        pick(m.Name, o.Name),
		DateCreated: pick(m.DateCreated, o.DateCreated),
		Type:        pick(m.Type, o.Type),
	}
}

// readFields is the field list requested for a collection.
func (m FieldMap) readFields() []string {
	return []string{"id", m.File, m.ProjectID, m.Company, m.DateCreated, m.Type, m.Name}
}
