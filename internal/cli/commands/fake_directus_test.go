package commands

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/zalando/go-keyring"
)

type fakeAccount struct {
	id       string
	password string
	admin    bool
}

type patchCall struct {
	Collection string
	Keys       []string
	Data       map[string]any
}

// fakeDirectus serves the REST and websocket endpoints the CLI talks to
type fakeDirectus struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*fakeAccount
	tokens   map[string]string
	items    map[string][]map[string]any
	patches  []patchCall
	logouts  int
}

func newFakeDirectus(t *testing.T) *fakeDirectus {
	f := &fakeDirectus{
		t: t,
		accounts: map[string]*fakeAccount{
			"admin@prod.com": {id: "u-admin", password: "123456", admin: true},
			"user@prod.com":  {id: "u-user", password: "123456"},
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
	mux.HandleFunc("/websocket", f.websocket)

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

// setupCLI isolates the keychain, the user config and the environment, and
// points the commands at a fresh fake backend.
func setupCLI(t *testing.T) (*fakeDirectus, *Globals) {
	t.Helper()
	keyring.MockInit()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("DIRECTUS_URL", "")
	t.Setenv("PHOTOREVIEW_EMAIL", "")
	t.Setenv("PHOTOREVIEW_PASSWORD", "")
	t.Setenv("PHOTO_FIELD_MAP_FILE", "")

	f := newFakeDirectus(t)
	return f, &Globals{DirectusURL: f.srv.URL}
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

func (f *fakeDirectus) lookup(token string) (string, *fakeAccount, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.tokens[token]
	if !ok {
		return "", nil, false
	}
	acc := *f.accounts[email]
	return email, &acc, true
}

func (f *fakeDirectus) account(r *http.Request) (string, *fakeAccount, bool) {
	return f.lookup(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

func (f *fakeDirectus) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDirectusError(w, http.StatusBadRequest, "Invalid payload.", "INVALID_PAYLOAD")
		return
	}

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
			"role":  map[string]any{"id": "role-" + acc.id, "name": "Reviewer", "admin_access": acc.admin},
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
	json.Unmarshal([]byte(r.URL.Query().Get("filter")), &filter)

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
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDirectusError(w, http.StatusBadRequest, "Invalid payload.", "INVALID_PAYLOAD")
		return
	}

	f.mu.Lock()
	f.patches = append(f.patches, patchCall{Collection: r.PathValue("collection"), Keys: body.Keys, Data: body.Data})
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": []any{}})
}

type wsMessage struct {
	Type        string `json:"type"`
	Status      string `json:"status,omitempty"`
	Event       string `json:"event,omitempty"`
	UID         string `json:"uid,omitempty"`
	Collection  string `json:"collection,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
	Data        any    `json:"data,omitempty"`
}

// websocket authenticates the connection and answers the create subscription
// of the cooks collection with one event.
func (f *fakeDirectus) websocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var auth wsMessage
	if err := conn.ReadJSON(&auth); err != nil {
		return
	}
	if _, _, ok := f.lookup(auth.AccessToken); auth.Type != "auth" || !ok {
		conn.WriteJSON(map[string]any{"type": "auth", "status": "error", "error": map[string]any{"code": "INVALID_CREDENTIALS", "message": "Invalid user credentials."}})
		return
	}
	conn.WriteJSON(wsMessage{Type: "auth", Status: "ok"})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type != "subscribe" {
			continue
		}
		conn.WriteJSON(wsMessage{Type: "subscription", Event: "init", UID: msg.UID})
		if msg.Collection == "cooks" && msg.Event == "create" {
			conn.WriteJSON(wsMessage{Type: "subscription", Event: "create", UID: msg.UID, Data: []map[string]any{{"id": 42}}})
		}
	}
}
