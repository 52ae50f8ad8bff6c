package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/comunidade-maf/apiserver/internal/services"
	"github.com/comunidade-maf/apiserver/internal/store"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type memUsers struct {
	mu   sync.Mutex
	byID map[string]types.User
	seq  int
}

func newMemUsers() *memUsers {
	return &memUsers{byID: map[string]types.User{}}
}

func (m *memUsers) GetByID(_ context.Context, id string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) GetByEmail(_ context.Context, email string) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Email == email {
			return u, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (m *memUsers) LookupEmail(ctx context.Context, id string) (string, error) {
	u, err := m.GetByID(ctx, id)
	return u.Email, err
}

func (m *memUsers) Create(_ context.Context, user types.User) (types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	user.ID = "user-" + strings.Repeat("x", m.seq)
	user.CreatedAt = time.Now()
	m.byID[user.ID] = user
	return user, nil
}

func (m *memUsers) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	return nil
}

type memProfiles struct {
	byID  map[string]types.Profile
	reads int

	// afterRead runs once a read has been taken, standing in for a status
	// write that commits while the caller is still working.
	afterRead func()
}

func (m *memProfiles) GetByID(_ context.Context, id string) (types.Profile, error) {
	m.reads++
	p, ok := m.byID[id]
	if m.afterRead != nil {
		m.afterRead()
	}
	if !ok {
		return types.Profile{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memProfiles) List(context.Context, types.AccessStatus, int, int) ([]types.Profile, int, error) {
	return nil, 0, nil
}

func (m *memProfiles) CountByStatus(context.Context, types.AccessStatus) (int, error) {
	return 0, nil
}

func (m *memProfiles) UpdateDetails(context.Context, types.Profile) error { return nil }

func (m *memProfiles) SetAccessState(context.Context, string, types.AccessStatus, bool) error {
	return nil
}

func (m *memProfiles) SetBadge(context.Context, string, bool) error { return nil }

var _ services.ProfileRepository = (*memProfiles)(nil)

// serve runs a request through h with an optional authenticated subject.
func serve(t *testing.T, h http.Handler, method, target, subject string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, target, body)
	if subject != "" {
		token, err := issueToken(subject, []byte(testSecret), time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
