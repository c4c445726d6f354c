package authstate

import "github.com/planboo/photoreview/internal/directus"

// Status is the settled (or transient) phase of a session.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusLoading            Status = "loading"
	StatusUnauthenticated    Status = "unauthenticated"
	StatusAuthenticatedAdmin Status = "authenticated-admin"
	StatusAuthenticatedUser  Status = "authenticated-user"
	StatusError              Status = "error"
)

// State is what the rest of the application sees of a session.
type State struct {
	Status          Status         `json:"status"`
	IsAuthenticated bool           `json:"isAuthenticated"`
	IsAdmin         bool           `json:"isAdmin"`
	User            *directus.User `json:"-"`
	Loading         bool           `json:"loading"`
	Error           string         `json:"error,omitempty"`
}

// Settled reports whether the state is no longer waiting on the backend.
func (s State) Settled() bool {
	return s.Status != StatusIdle && s.Status != StatusLoading
}

type ActionType string

const (
	ActionCheckStart   ActionType = "check-start"
	ActionCheckSuccess ActionType = "check-success"
	ActionCheckFailure ActionType = "check-failure"
	ActionLoginStart   ActionType = "login-start"
	ActionLoginSuccess ActionType = "login-success"
	ActionLoginFailure ActionType = "login-failure"
	ActionLogout       ActionType = "logout"
)

// Action is an input to Reduce. User and IsAdmin are read by the success
// actions, Error by login-failure.
type Action struct {
	Type    ActionType
	User    *directus.User
	IsAdmin bool
	Error   string
}

// Reduce computes the next state. It never yields IsAdmin without
// IsAuthenticated.
func Reduce(state State, action Action) State {
	next := state

	switch action.Type {
	case ActionCheckStart:
		next.Status = StatusLoading
		next.Loading = true

	case ActionLoginStart:
		next.Status = StatusLoading
		next.Loading = true
		next.Error = ""

	case ActionCheckSuccess, ActionLoginSuccess:
		next = authenticated(action.User, action.IsAdmin)

	case ActionCheckFailure, ActionLogout:
		next = State{Status: StatusUnauthenticated}

	case ActionLoginFailure:
		msg := action.Error
		if msg == "" {
			msg = loginFailed
		}
		next = State{Status: StatusError, Error: msg}

	default:
		return state
	}

	if !next.IsAuthenticated {
		next.IsAdmin = false
		next.User = nil
	}
	return next
}

func authenticated(user *directus.User, isAdmin bool) State {
	if user == nil {
		return State{Status: StatusUnauthenticated}
	}
	status := StatusAuthenticatedUser
	if isAdmin {
		status = StatusAuthenticatedAdmin
	}
	return State{
		Status:          status,
		IsAuthenticated: true,
		IsAdmin:         isAdmin,
		User:            user,
	}
}
