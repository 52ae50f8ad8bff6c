package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/comunidade-maf/apiserver/internal/services"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(users *memUsers, profiles *memProfiles) http.Handler {
	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) {
		AuthRouter(r, services.NewUserService(users, profiles), testSecret)
	})
	return r
}

func TestRegisterLoginAndMe(t *testing.T) {
	users := newMemUsers()
	profiles := &memProfiles{byID: map[string]types.Profile{}}
	router := newAuthRouter(users, profiles)

	rec := serve(t, router, http.MethodPost, "/auth/register", "",
		strings.NewReader(`{"email":"Ana@Example.com","password":"longenough"}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var registered AuthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&registered))
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "ana@example.com", registered.User.Email)

	rec = serve(t, router, http.MethodPost, "/auth/login", "",
		strings.NewReader(`{"email":"ana@example.com","password":"longenough"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, router, http.MethodPost, "/auth/login", "",
		strings.NewReader(`{"email":"ana@example.com","password":"wrong-password"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	profiles.byID[registered.User.ID] = types.Profile{ID: registered.User.ID, FullName: "Ana", StatusAccess: types.AccessPending}
	rec = serve(t, router, http.MethodGet, "/auth/me", registered.User.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var me MeResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	require.NotNil(t, me.Profile)
	assert.Equal(t, types.AccessPending, me.Profile.StatusAccess)
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	router := newAuthRouter(newMemUsers(), &memProfiles{byID: map[string]types.Profile{}})
	body := `{"email":"dup@example.com","password":"longenough"}`

	rec := serve(t, router, http.MethodPost, "/auth/register", "", strings.NewReader(body))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = serve(t, router, http.MethodPost, "/auth/register", "", strings.NewReader(body))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidatesInput(t *testing.T) {
	router := newAuthRouter(newMemUsers(), &memProfiles{byID: map[string]types.Profile{}})

	tests := []struct {
		name string
		body string
	}{
		{"short password", `{"email":"a@example.com","password":"short"}`},
		{"bad email", `{"email":"not-an-email","password":"longenough"}`},
		{"missing fields", `{}`},
		{"garbage", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, router, http.MethodPost, "/auth/register", "", strings.NewReader(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	router := newAuthRouter(newMemUsers(), &memProfiles{byID: map[string]types.Profile{}})

	rec := serve(t, router, http.MethodGet, "/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := issueToken("someone", []byte("other-secret"), time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeForUnknownSubject(t *testing.T) {
	router := newAuthRouter(newMemUsers(), &memProfiles{byID: map[string]types.Profile{}})

	rec := serve(t, router, http.MethodGet, "/auth/me", "ghost", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
