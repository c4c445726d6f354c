package directus

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// User is the identity returned by /users/me.
type User struct {
	ID    string
	Email string
	Role  RoleRef
}

// RoleRef is either an IdentifiedRole (role expanded to an object) or a
// LegacyRole (role returned as a bare identifier). Downstream code switches on
// the concrete type; the raw JSON shape never leaves this package.
type RoleRef interface {
	roleRef()
}

// IdentifiedRole is a role expanded with its fields.
type IdentifiedRole struct {
	ID          string
	Name        string
	AdminAccess *bool // nil when the backend did not report it
}

// LegacyRole is a role the backend returned as a plain identifier.
type LegacyRole string

func (IdentifiedRole) roleRef() {}
func (LegacyRole) roleRef()     {}

// PoliciesGlobals summarizes the session's effective permissions.
type PoliciesGlobals struct {
	AppAccess   bool `json:"app_access"`
	AdminAccess bool `json:"admin_access"`
	EnforceTFA  bool `json:"enforce_tfa"`
}

// Item is one record of a collection.
type Item map[string]any

// unwrapData returns the payload under a top-level "data" key, or the body
// itself when it is not wrapped.
func unwrapData(body []byte) (json.RawMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		// Not an object (e.g. a bare array); nothing to unwrap.
		if json.Valid(body) {
			return body, nil
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if data, ok := envelope["data"]; ok && !isNull(data) {
		return data, nil
	}
	return body, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func decodeUser(body []byte) (*User, error) {
	payload, err := unwrapData(body)
	if err != nil {
		return nil, err
	}

	var obj map[string]any
	if err := decodeJSON(payload, &obj); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}

	return &User{
		ID:    Stringify(obj["id"]),
		Email: Stringify(obj["email"]),
		Role:  normalizeRole(obj["role"]),
	}, nil
}

func normalizeRole(raw any) RoleRef {
	if fields, ok := raw.(map[string]any); ok {
		if id, ok := fields["id"]; ok {
			role := IdentifiedRole{
				ID:   Stringify(id),
				Name: Stringify(fields["name"]),
			}
			if admin, ok := fields["admin_access"].(bool); ok {
				role.AdminAccess = &admin
			}
			return role
		}
		return LegacyRole("")
	}
	return LegacyRole(Stringify(raw))
}

// Stringify renders a decoded JSON scalar the way it appeared on the wire.
// nil becomes "".
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}

func decodeJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
