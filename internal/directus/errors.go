package directus

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrNotAuthenticated = errors.New("directus: not authenticated")
	ErrNoRefreshToken   = errors.New("directus: no refresh token")
)

// Error is a non-2xx answer from the backend.
type Error struct {
	Status   int
	Code     string
	Messages []string
}

func (e *Error) Error() string {
	if msg := e.Message(); msg != "" {
		return fmt.Sprintf("directus: %s (status %d)", msg, e.Status)
	}
	return fmt.Sprintf("directus: request failed (status %d %s)", e.Status, http.StatusText(e.Status))
}

// Message joins the backend-provided error messages, or returns "" when the
// body carried none.
func (e *Error) Message() string {
	return strings.Join(e.Messages, "; ")
}

// IsUnauthorized reports whether err is a 401 answer or a missing token.
func IsUnauthorized(err error) bool {
	if errors.Is(err, ErrNotAuthenticated) {
		return true
	}
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// decodeError turns a Directus error envelope ({"errors":[{"message":..}]})
// into an *Error. Bodies that are not an envelope still yield the status.
func decodeError(status int, body []byte) *Error {
	apiErr := &Error{Status: status}

	var envelope struct {
		Errors []struct {
			Message    string `json:"message"`
			Extensions struct {
				Code string `json:"code"`
			} `json:"extensions"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return apiErr
	}
	for _, e := range envelope.Errors {
		if e.Message != "" {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
		if apiErr.Code == "" {
			apiErr.Code = e.Extensions.Code
		}
	}
	return apiErr
}
