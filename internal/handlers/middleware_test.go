package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/metrics"
	"github.com/comunidade-maf/apiserver/types"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	red "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeRouter(profiles ProfileReader, statuses cache.StatusCache) http.Handler {
	r := chi.NewRouter()
	r.Use(RequireAuth(testSecret), RequireActive(profiles, statuses, nil))
	r.Get("/feed", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func TestRequireActiveGatesByStatus(t *testing.T) {
	profiles := &memProfiles{byID: map[string]types.Profile{
		"active":  {ID: "active", StatusAccess: types.AccessActive},
		"pending": {ID: "pending", StatusAccess: types.AccessPending},
		"revoked": {ID: "revoked", StatusAccess: types.AccessRevoked},
	}}
	router := activeRouter(profiles, cache.Noop{})

	rec := serve(t, router, http.MethodGet, "/feed", "active", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	for _, id := range []string{"pending", "revoked"} {
		rec := serve(t, router, http.MethodGet, "/feed", id, nil)
		require.Equal(t, http.StatusForbidden, rec.Code)

		var denied AccessDeniedResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&denied))
		assert.Equal(t, profiles.byID[id].StatusAccess, denied.StatusAccess)
	}

	rec = serve(t, router, http.MethodGet, "/feed", "never-onboarded", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"onboarding required"}`, rec.Body.String())

	rec = serve(t, router, http.MethodGet, "/feed", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireActiveReadsThroughRedis(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	statuses := cache.NewRedisStatusCache(client, "", time.Minute)

	profiles := &memProfiles{byID: map[string]types.Profile{
		"u-1": {ID: "u-1", StatusAccess: types.AccessActive},
	}}
	router := activeRouter(profiles, statuses)

	assert.Equal(t, http.StatusNoContent, serve(t, router, http.MethodGet, "/feed", "u-1", nil).Code)
	assert.Equal(t, http.StatusNoContent, serve(t, router, http.MethodGet, "/feed", "u-1", nil).Code)
	assert.Equal(t, 1, profiles.reads, "second request should be served from cache")

	// A revocation invalidates the entry; the next request sees the store.
	profiles.byID["u-1"] = types.Profile{ID: "u-1", StatusAccess: types.AccessRevoked}
	require.NoError(t, statuses.Invalidate(context.Background(), "u-1"))

	assert.Equal(t, http.StatusForbidden, serve(t, router, http.MethodGet, "/feed", "u-1", nil).Code)
	assert.Equal(t, 2, profiles.reads)
}

func TestRequireActiveDoesNotCacheStatusReadBeforeRevocation(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	statuses := cache.NewRedisStatusCache(client, "", time.Minute)

	profiles := &memProfiles{byID: map[string]types.Profile{
		"u-1": {ID: "u-1", StatusAccess: types.AccessActive},
	}}
	profiles.afterRead = func() {
		profiles.afterRead = nil
		profiles.byID["u-1"] = types.Profile{ID: "u-1", StatusAccess: types.AccessRevoked}
		require.NoError(t, statuses.Invalidate(context.Background(), "u-1"))
	}
	router := activeRouter(profiles, statuses)

	// The first request already holds the ACTIVE row when the revocation
	// commits, so it is let through but must not cache that row.
	assert.Equal(t, http.StatusNoContent, serve(t, router, http.MethodGet, "/feed", "u-1", nil).Code)
	assert.False(t, server.Exists("access:status:u-1"))

	assert.Equal(t, http.StatusForbidden, serve(t, router, http.MethodGet, "/feed", "u-1", nil).Code)
	assert.Equal(t, 2, profiles.reads)
	assert.True(t, server.Exists("access:status:u-1"))
}

func TestInstrumentCountsByRoutePattern(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(Instrument(m))
	r.Get("/admin/users/{userID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	serve(t, r, http.MethodGet, "/admin/users/a", "", nil)
	serve(t, r, http.MethodGet, "/admin/users/b", "", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues(http.MethodGet, "/admin/users/{userID}", "202")))
}
