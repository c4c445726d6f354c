package auth

// SessionData represents the session context resolved for a request
type SessionData struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	Email      string `json:"email"`
	IsAdmin    bool   `json:"is_admin"`
	AuthMethod string `json:"auth_method"` // "cookie", "bearer"
}
