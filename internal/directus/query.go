package directus

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Filter is a Directus filter object, e.g. {"project_id": {"_eq": "p1"}}.
type Filter map[string]any

// Query holds the read parameters supported by the item and file endpoints.
type Query struct {
	Filter Filter
	Fields []string
	Limit  int
	Sort   []string
}

// Values encodes the query the way the Directus SDK does: the filter as
// JSON, fields and sort comma-joined.
func (q Query) Values() (url.Values, error) {
	v := url.Values{}
	if len(q.Filter) > 0 {
		raw, err := json.Marshal(q.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
		v.Set("filter", string(raw))
	}
	if len(q.Fields) > 0 {
		v.Set("fields", strings.Join(q.Fields, ","))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if len(q.Sort) > 0 {
		v.Set("sort", strings.Join(q.Sort, ","))
	}
	return v, nil
}
