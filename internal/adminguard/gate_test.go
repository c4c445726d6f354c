package adminguard

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/planboo/photoreview/internal/authstate"
	"github.com/planboo/photoreview/internal/directus"
)

type fakeClient struct {
	authenticated bool
	policies      *directus.PoliciesGlobals
	policiesErr   error
	user          *directus.User
	userErr       error
	userCalls     int
}

func (f *fakeClient) IsAuthenticated() bool { return f.authenticated }

func (f *fakeClient) FetchPoliciesGlobals(context.Context) (*directus.PoliciesGlobals, error) {
	return f.policies, f.policiesErr
}

func (f *fakeClient) FetchCurrentUser(context.Context) (*directus.User, error) {
	f.userCalls++
	return f.user, f.userErr
}

func newGate() *Gate {
	return New(authstate.NewAdminPolicy("admin-role"), zerolog.Nop())
}

func TestCheck(t *testing.T) {
	unavailable := &directus.Error{Status: http.StatusNotFound}

	tests := []struct {
		name   string
		client Client
		want   Status
	}{
		{name: "no client", client: nil, want: StatusUnauthorized},
		{name: "no token", client: &fakeClient{}, want: StatusUnauthorized},
		{
			name:   "policies grant",
			client: &fakeClient{authenticated: true, policies: &directus.PoliciesGlobals{AdminAccess: true}},
			want:   StatusAuthorized,
		},
		{
			name:   "policies deny",
			client: &fakeClient{authenticated: true, policies: &directus.PoliciesGlobals{}},
			want:   StatusUnauthorized,
		},
		{
			name:   "token rejected",
			client: &fakeClient{authenticated: true, policiesErr: &directus.Error{Status: http.StatusUnauthorized}},
			want:   StatusUnauthorized,
		},
		{
			name: "role fallback grants",
			client: &fakeClient{authenticated: true, policiesErr: unavailable,
				user: &directus.User{Role: directus.IdentifiedRole{ID: "admin-role"}}},
			want: StatusAuthorized,
		},
		{
			name: "legacy role fallback denies",
			client: &fakeClient{authenticated: true, policiesErr: unavailable,
				user: &directus.User{Role: directus.LegacyRole("admin-role")}},
			want: StatusUnauthorized,
		},
		{
			name:   "everything fails",
			client: &fakeClient{authenticated: true, policiesErr: errors.New("timeout"), userErr: errors.New("timeout")},
			want:   StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newGate().Check(context.Background(), tt.client))
		})
	}
}

func TestCheck_ReverifiesEveryCall(t *testing.T) {
	client := &fakeClient{authenticated: true, policiesErr: errors.New("boom"),
		user: &directus.User{Role: directus.IdentifiedRole{ID: "admin-role"}}}
	gate := newGate()

	assert.Equal(t, StatusAuthorized, gate.Check(context.Background(), client))
	client.user = &directus.User{Role: directus.IdentifiedRole{ID: "other"}}
	assert.Equal(t, StatusUnauthorized, gate.Check(context.Background(), client))
	assert.Equal(t, 2, client.userCalls)
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		client   Client
		wantCode int
		wantBody string
	}{
		{
			name:     "authorized serves children",
			client:   &fakeClient{authenticated: true, policies: &directus.PoliciesGlobals{AdminAccess: true}},
			wantCode: http.StatusOK,
			wantBody: "children:authorized",
		},
		{
			name:     "unauthorized serves fallback",
			client:   &fakeClient{authenticated: true, policies: &directus.PoliciesGlobals{}},
			wantCode: http.StatusForbidden,
			wantBody: "fallback:unauthorized",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			fallback := func(c *gin.Context) {
				c.String(http.StatusForbidden, "fallback:"+string(FromContext(c)))
			}
			router.GET("/photos",
				newGate().Middleware(func(*gin.Context) Client { return tt.client }, fallback),
				func(c *gin.Context) { c.String(http.StatusOK, "children:"+string(FromContext(c))) },
			)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/photos", nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantBody, w.Body.String())
		})
	}
}
