package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planboo/photoreview/internal/config"
	"github.com/planboo/photoreview/internal/database"
)

const (
	adminRoleID  = "69db487d-4b8c-433a-8f2b-ef25923d8615"
	viewerRoleID = "viewer-role"
)

type fakeAccount struct {
	id       string
	password string
	roleID   string
	admin    bool
}

type patchCall struct {
	Collection string
	Keys       []string
	Data       map[string]any
}

// fakeDirectus is a Directus backend speaking just enough REST for the
// routing shell.
type fakeDirectus struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*fakeAccount // by email
	tokens   map[string]string       // access token -> email
	items    map[string][]map[string]any
	patches  []patchCall
	logouts  int
}

func newFakeDirectus(t *testing.T) *fakeDirectus {
	f := &fakeDirectus{
		t: t,
		accounts: map[string]*fakeAccount{
			"admin@prod.com": {id: "u-admin", password: "123456", roleID: adminRoleID, admin: true},
			"user@prod.com":  {id: "u-user", password: "123456", roleID: viewerRoleID},
		},
		tokens: map[string]string{},
		items: map[string][]map[string]any{
			"cooks": {
				{"id": 1, "photo": "file-1", "project_id": "p1", "company": "acme", "name": "Cook one", "type": "cook", "date_created": "2024-05-02T10:00:00Z"},
			},
			"mixtures": {},
			"fields": {
				{"id": 9, "photo": "file-9", "project_id": "p2", "company": "acme", "name": "Field nine", "type": "field", "date_created": "2024-05-01T10:00:00Z"},
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", f.login)
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logouts++
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /users/me", f.usersMe)
	mux.HandleFunc("GET /policies/me/globals", f.policies)
	mux.HandleFunc("GET /items/{collection}", f.readItems)
	mux.HandleFunc("PATCH /items/{collection}", f.updateItems)
	mux.HandleFunc("GET /files", f.readFiles)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeDirectusError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, map[string]any{
		"errors": []map[string]any{{"message": message, "extensions": map[string]any{"code": code}}},
	})
}

func (f *fakeDirectus) setAdmin(email string, admin bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[email].admin = admin
}

// revokeAll invalidates every issued access token.
func (f *fakeDirectus) revokeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = map[string]string{}
}

func (f *fakeDirectus) logoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logouts
}

func (f *fakeDirectus) patchCalls() []patchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]patchCall(nil), f.patches...)
}

// account resolves the bearer token of r.
func (f *fakeDirectus) account(r *http.Request) (string, *fakeAccount, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.tokens[token]
	if !ok {
		return "", nil, false
	}
	acc := *f.accounts[email]
	return email, &acc, true
}

func (f *fakeDirectus) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Mode     string `json:"mode"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
	assert.Equal(f.t, "json", req.Mode)

	f.mu.Lock()
	acc, ok := f.accounts[req.Email]
	if !ok || acc.password != req.Password {
		f.mu.Unlock()
		writeDirectusError(w, http.StatusUnauthorized, "Invalid user credentials.", "INVALID_CREDENTIALS")
		return
	}
	token := "token-" + acc.id
	f.tokens[token] = req.Email
	f.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"access_token": token, "refresh_token": "refresh-" + acc.id, "expires": 900000},
	})
}

func (f *fakeDirectus) usersMe(w http.ResponseWriter, r *http.Request) {
	email, acc, ok := f.account(r)
	if !ok {
		writeDirectusError(w, http.StatusUnauthorized, "Invalid token.", "INVALID_TOKEN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"id":    acc.id,
			"email": email,
			"role":  map[string]any{"id": acc.roleID, "name": "Role", "admin_access": acc.admin},
		},
	})
}

func (f *fakeDirectus) policies(w http.ResponseWriter, r *http.Request) {
	_, acc, ok := f.account(r)
	if !ok {
		writeDirectusError(w, http.StatusUnauthorized, "Invalid token.", "INVALID_TOKEN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{"app_access": true, "admin_access": acc.admin},
	})
}

func (f *fakeDirectus) readItems(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := f.account(r); !ok {
		writeDirectusError(w, http.StatusUnauthorized, "Invalid token.", "INVALID_TOKEN")
		return
	}
	f.mu.Lock()
	rows, ok := f.items[r.PathValue("collection")]
	f.mu.Unlock()
	if !ok {
		writeDirectusError(w, http.StatusForbidden, "You don't have permission to access this.", "FORBIDDEN")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (f *fakeDirectus) readFiles(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := f.account(r); !ok {
		writeDirectusError(w, http.StatusUnauthorized, "Invalid token.", "INVALID_TOKEN")
		return
	}
	var filter struct {
		ID struct {
			In []string `json:"_in"`
		} `json:"id"`
	}
	require.NoError(f.t, json.Unmarshal([]byte(r.URL.Query().Get("filter")), &filter))

	files := make([]map[string]any, 0, len(filter.ID.In))
	for _, id := range filter.ID.In {
		files = append(files, map[string]any{"id": id, "filename_disk": id + ".jpg"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": files})
}

func (f *fakeDirectus) updateItems(w http.ResponseWriter, r *http.Request) {
	if _, _, ok := f.account(r); !ok {
		writeDirectusError(w, http.StatusUnauthorized, "Invalid token.", "INVALID_TOKEN")
		return
	}
	var body struct {
		Keys []string       `json:"keys"`
		Data map[string]any `json:"data"`
	}
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))

	f.mu.Lock()
	f.patches = append(f.patches, patchCall{Collection: r.PathValue("collection"), Keys: body.Keys, Data: body.Data})
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
}

func testConfig(directusURL string) *config.Config {
	return &config.Config{
		Directus: config.DirectusConfig{
			URL:          directusURL,
			AdminRoleIDs: []string{adminRoleID},
			Timeout:      5 * time.Second,
		},
		Server: config.ServerConfig{
			Port:            8080,
			SessionTTL:      time.Hour,
			CookieSecure:    false,
			LoginRatePerSec: 100,
			LoginRateBurst:  100,
		},
		Realtime: config.RealtimeConfig{
			ReconnectDelay: 10 * time.Millisecond,
			MaxReconnects:  1,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"), zerolog.Nop())
	require.NoError(t, err)

	s, err := newServer(cfg, db, zerolog.Nop(), "test")
	require.NoError(t, err)
	t.Cleanup(func() {
		s.registry.Close(t.Context())
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return s
}

func do(s *Server, req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func get(s *Server, path string, cookie *http.Cookie) *httptest.ResponseRecorder {
	return do(s, httptest.NewRequest(http.MethodGet, path, nil), cookie)
}

func postForm(s *Server, path string, form url.Values, cookie *http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(s, req, cookie)
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	return nil
}

// login signs in through the form and returns the session cookie.
func login(t *testing.T, s *Server, email, password string) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	w := postForm(s, "/login", url.Values{"email": {email}, "password": {password}}, nil)
	return w, sessionCookie(w)
}

func TestLogin_AdminLandsOnPhotos(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w, cookie := login(t, s, "admin@prod.com", "123456")
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/photos", w.Header().Get("Location"))
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	w = get(s, "/photos", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "<h1>Photo Review</h1>")
	assert.Contains(t, body, "admin@prod.com")
	assert.Contains(t, body, "Logout")
	assert.Contains(t, body, `value="cooks:1"`)
	assert.Contains(t, body, `value="fields:9"`)
	assert.Contains(t, body, directus.srv.URL+"/assets/file-1")

	// Cooks come before fields
	assert.Less(t, strings.Index(body, "cooks:1"), strings.Index(body, "fields:9"))

	w = get(s, "/", cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/photos", w.Header().Get("Location"))
}

func TestLogin_NonAdminLandsOnHome(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w, cookie := login(t, s, "user@prod.com", "123456")
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/home", w.Header().Get("Location"))
	require.NotNil(t, cookie)

	w = get(s, "/home", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Welcome to Photo Review System")
	assert.Contains(t, body, "Limited Access")
	assert.NotContains(t, body, "Go to Photo Review")
	assert.Contains(t, body, `<a href="/home">Home</a>`)

	w = get(s, "/photos", cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestLogin_InvalidCredentialsStaysOnLogin(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w, cookie := login(t, s, "invalid@example.com", "wrongpassword")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, cookie)

	body := w.Body.String()
	assert.Contains(t, body, "Login failed")
	assert.Contains(t, body, "Invalid user credentials.")
	assert.Contains(t, body, `value="invalid@example.com"`)

	// The failed attempt leaves no session behind
	assert.Equal(t, 0, s.registry.Len())
}

func TestLogin_FormValidation(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	tests := []struct {
		name string
		form url.Values
		want string
	}{
		{"missing email", url.Values{"password": {"123456"}}, "Email is required"},
		{"malformed email", url.Values{"email": {"not-an-email"}, "password": {"123456"}}, "Email is invalid"},
		{"missing password", url.Values{"email": {"admin@prod.com"}}, "Password is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postForm(s, "/login", tt.form, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestLogin_RateLimited(t *testing.T) {
	directus := newFakeDirectus(t)
	cfg := testConfig(directus.srv.URL)
	cfg.Server.LoginRatePerSec = 0.001
	cfg.Server.LoginRateBurst = 1
	s := newTestServer(t, cfg)

	w, _ := login(t, s, "invalid@example.com", "wrongpassword")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = login(t, s, "admin@prod.com", "123456")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "Too many login attempts")
}

func TestLogin_RateLimitIgnoresUntrustedForwardedFor(t *testing.T) {
	directus := newFakeDirectus(t)
	cfg := testConfig(directus.srv.URL)
	cfg.Server.LoginRatePerSec = 0.001
	cfg.Server.LoginRateBurst = 1
	s := newTestServer(t, cfg)

	attempt := func(forwardedFor string) *httptest.ResponseRecorder {
		form := url.Values{"email": {"invalid@example.com"}, "password": {"wrongpassword"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		req.Header.Set("X-Real-IP", forwardedFor)
		return do(s, req, nil)
	}

	assert.Equal(t, http.StatusUnauthorized, attempt("203.0.113.1").Code)
	for _, ip := range []string{"203.0.113.2", "203.0.113.3", "198.51.100.7"} {
		assert.Equal(t, http.StatusTooManyRequests, attempt(ip).Code, ip)
	}
}

func TestLogin_RateLimitUsesForwardedForFromTrustedProxy(t *testing.T) {
	directus := newFakeDirectus(t)
	cfg := testConfig(directus.srv.URL)
	cfg.Server.LoginRatePerSec = 0.001
	cfg.Server.LoginRateBurst = 1
	// httptest requests arrive from 192.0.2.1
	cfg.Server.TrustedProxies = []string{"192.0.2.1"}
	s := newTestServer(t, cfg)

	attempt := func(forwardedFor string) *httptest.ResponseRecorder {
		form := url.Values{"email": {"invalid@example.com"}, "password": {"wrongpassword"}}
		req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		return do(s, req, nil)
	}

	assert.Equal(t, http.StatusUnauthorized, attempt("203.0.113.1").Code)
	assert.Equal(t, http.StatusUnauthorized, attempt("203.0.113.2").Code)
	assert.Equal(t, http.StatusTooManyRequests, attempt("203.0.113.1").Code)
}

func TestNewServer_RejectsInvalidTrustedProxy(t *testing.T) {
	directus := newFakeDirectus(t)
	cfg := testConfig(directus.srv.URL)
	cfg.Server.TrustedProxies = []string{"not-an-address"}

	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	_, err = newServer(cfg, db, zerolog.Nop(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRUSTED_PROXIES")
}

func TestLandingAndHome_Anonymous(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w := get(s, "/", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))

	w = get(s, "/home", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sign In Required")
	assert.Contains(t, w.Body.String(), `<a href="/login">Login</a>`)

	w = get(s, "/photos", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = get(s, "/no/such/page", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))
}

func TestLoginPage_RedirectsAuthenticatedUsers(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w := get(s, "/login", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Sign in")

	_, cookie := login(t, s, "user@prod.com", "123456")
	w = get(s, "/login", cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/home", w.Header().Get("Location"))
}

func TestLogout_EndsSession(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	_, cookie := login(t, s, "admin@prod.com", "123456")
	require.NotNil(t, cookie)

	w := postForm(s, "/logout", nil, cookie)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
	cleared := sessionCookie(w)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	assert.Equal(t, 1, directus.logoutCount())
	assert.Equal(t, 0, s.registry.Len())

	// The old cookie no longer names a session
	w = get(s, "/api/session", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsAuthenticated)
	assert.False(t, resp.IsAdmin)
}

func TestTamperedCookieIsAnonymous(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w := get(s, "/", &http.Cookie{Name: SessionCookie, Value: "not-a-token"})
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
	cleared := sessionCookie(w)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
}

func TestPhotos_GateRechecksBackend(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	_, cookie := login(t, s, "admin@prod.com", "123456")
	require.Equal(t, http.StatusOK, get(s, "/photos", cookie).Code)

	// Admin access revoked after sign-in
	directus.setAdmin("admin@prod.com", false)

	w := get(s, "/photos", cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/home", w.Header().Get("Location"))

	w = get(s, "/api/photos", cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPhotos_InvalidFilter(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	_, cookie := login(t, s, "admin@prod.com", "123456")

	w := get(s, "/photos?type=selfie", cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid")
	assert.NotContains(t, w.Body.String(), "cooks:1")

	// The empty "All types" option is ignored
	w = get(s, "/photos?type=&projectId=p1", cookie)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApplyComment_UpdatesEachCollectionOnce(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	_, cookie := login(t, s, "admin@prod.com", "123456")

	w := postForm(s, "/photos/comment", url.Values{
		"item":    {"cooks:1", "fields:9", "cooks:2"},
		"comment": {"Looks good"},
	}, cookie)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/photos?updated=3", w.Header().Get("Location"))

	calls := directus.patchCalls()
	require.Len(t, calls, 2)
	byCollection := map[string]patchCall{}
	for _, c := range calls {
		byCollection[c.Collection] = c
	}
	assert.ElementsMatch(t, []string{"1", "2"}, byCollection["cooks"].Keys)
	assert.Equal(t, map[string]any{"cook_comment": "Looks good"}, byCollection["cooks"].Data)
	assert.Equal(t, []string{"9"}, byCollection["fields"].Keys)
	assert.Equal(t, map[string]any{"field_comment": "Looks good"}, byCollection["fields"].Data)

	w = get(s, "/photos?updated=3", cookie)
	assert.Contains(t, w.Body.String(), "Comment applied to 3 photos")
}

func TestApplyComment_RequiresSelectionAndComment(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	_, cookie := login(t, s, "admin@prod.com", "123456")

	w := postForm(s, "/photos/comment", url.Values{"comment": {"x"}}, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Select photos to comment")

	w = postForm(s, "/photos/comment", url.Values{"item": {"cooks:1"}}, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Comment is required")

	w = postForm(s, "/photos/comment", url.Values{"item": {"pets:1"}, "comment": {"x"}}, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, directus.patchCalls())
}

func TestAPI_Session(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w := get(s, "/api/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var anon SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &anon))
	assert.Equal(t, "unauthenticated", string(anon.Status))
	assert.Nil(t, anon.User)

	_, cookie := login(t, s, "admin@prod.com", "123456")

	// The session token also works as a bearer token
	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	w = do(s, req, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "authenticated-admin", string(resp.Status))
	assert.True(t, resp.IsAuthenticated)
	assert.True(t, resp.IsAdmin)
	require.NotNil(t, resp.User)
	assert.Equal(t, "admin@prod.com", resp.User.Email)
	require.NotNil(t, resp.User.Role)
	assert.Equal(t, adminRoleID, resp.User.Role.ID)
}

func TestAPI_SessionRevokedOnBackend(t *testing.T) {
	directus := newFakeDirectus(t)
	cfg := testConfig(directus.srv.URL)
	cfg.Server.AuthRecheckInterval = time.Hour
	s := newTestServer(t, cfg)

	_, cookie := login(t, s, "admin@prod.com", "123456")
	require.Equal(t, http.StatusOK, get(s, "/photos", cookie).Code)

	directus.revokeAll()

	// The next backend call is rejected, which forces a recheck
	w := get(s, "/api/photos", cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = get(s, "/api/session", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsAuthenticated)
	assert.False(t, resp.IsAdmin)
	assert.Equal(t, "unauthenticated", string(resp.Status))

	w = get(s, "/photos", cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/", w.Header().Get("Location"))

	w = get(s, "/", cookie)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login", w.Header().Get("Location"))
}

func TestAPI_SessionRecheckedEveryRequest(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	_, cookie := login(t, s, "user@prod.com", "123456")
	directus.revokeAll()

	w := get(s, "/api/session", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.IsAuthenticated)
	assert.Nil(t, resp.User)
}

func TestAPI_PhotosAndComments(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	assert.Equal(t, http.StatusUnauthorized, get(s, "/api/photos", nil).Code)

	_, userCookie := login(t, s, "user@prod.com", "123456")
	assert.Equal(t, http.StatusForbidden, get(s, "/api/photos", userCookie).Code)

	_, cookie := login(t, s, "admin@prod.com", "123456")
	w := get(s, "/api/photos?projectId=p1", cookie)
	require.Equal(t, http.StatusOK, w.Code)

	var list PhotosResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Equal(t, 2, list.Count)
	assert.Equal(t, "cooks", string(list.Photos[0].Source))
	assert.Equal(t, directus.srv.URL+"/assets/file-1", list.Photos[0].FileURL)
	assert.Equal(t, "cook_comment", list.Photos[0].CommentField)

	body := `{"items":[{"id":"1","source":"cooks"},{"id":"7","source":"mixtures"}],"comment":"Retake"}`
	req := httptest.NewRequest(http.MethodPost, "/api/photos/comments", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w = do(s, req, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"updated":2}`, w.Body.String())
	assert.Len(t, directus.patchCalls(), 2)

	req = httptest.NewRequest(http.MethodPost, "/api/photos/comments", strings.NewReader(`{"items":[],"comment":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, do(s, req, cookie).Code)
}

func TestAPI_SystemInfo(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w := get(s, "/api/system/info", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	_, userCookie := login(t, s, "user@prod.com", "123456")
	w = get(s, "/api/system/info", userCookie)
	assert.Equal(t, http.StatusForbidden, w.Code)

	_, adminCookie := login(t, s, "admin@prod.com", "123456")
	w = get(s, "/api/system/info", adminCookie)
	require.Equal(t, http.StatusOK, w.Code)

	var info SystemInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, directus.srv.URL, info.DirectusURL)
	assert.Equal(t, 2, info.ActiveSessions)
	assert.Positive(t, info.Host.CPUCount)
}

func TestAPI_SystemInfo_GateRechecksBackend(t *testing.T) {
	directus := newFakeDirectus(t)
	cfg := testConfig(directus.srv.URL)
	// Keep the cached session admin so only the gate sees the change
	cfg.Server.AuthRecheckInterval = time.Hour
	s := newTestServer(t, cfg)

	_, cookie := login(t, s, "admin@prod.com", "123456")
	require.Equal(t, http.StatusOK, get(s, "/api/system/info", cookie).Code)

	directus.setAdmin("admin@prod.com", false)

	w := get(s, "/api/system/info", cookie)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "Admin access required")
}

func TestHealthAndMetrics(t *testing.T) {
	directus := newFakeDirectus(t)
	s := newTestServer(t, testConfig(directus.srv.URL))

	w := get(s, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"online"`)

	login(t, s, "invalid@example.com", "wrongpassword")

	w = get(s, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/health",status="200"} 1`)
	assert.Contains(t, body, `directus_requests_total{operation="login",status="401"} 1`)
	assert.Contains(t, body, "active_sessions 0")
}
