package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/comunidade-maf/apiserver/types"
	red "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*red.Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)

	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		server.Close()
	})
	return client, server
}

func TestRedisStatusCacheRoundTrip(t *testing.T) {
	client, server := newTestRedis(t)
	c := NewRedisStatusCache(client, "", time.Minute)
	ctx := context.Background()

	_, err := c.Get(ctx, "u-1")
	assert.ErrorIs(t, err, ErrMiss)

	entry := StatusEntry{Role: types.RoleUser, StatusAccess: types.AccessActive, VerifiedBadge: true}
	require.NoError(t, c.Set(ctx, "u-1", entry, 0))

	got, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	ttl := server.TTL("access:status:u-1")
	assert.True(t, ttl > 0 && ttl <= time.Minute, "unexpected ttl %v", ttl)
}

func TestRedisStatusCacheInvalidate(t *testing.T) {
	client, server := newTestRedis(t)
	c := NewRedisStatusCache(client, "maf", time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u-2", StatusEntry{StatusAccess: types.AccessActive}, 0))
	require.NoError(t, c.Invalidate(ctx, "u-2"))

	assert.False(t, server.Exists("maf:u-2"))
	_, err := c.Get(ctx, "u-2")
	assert.ErrorIs(t, err, ErrMiss)

	version, err := c.Version(ctx, "u-2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	assert.True(t, server.TTL("maf:ver:u-2") > 0)
}

func TestRedisStatusCacheDropsRefillStartedBeforeInvalidate(t *testing.T) {
	client, server := newTestRedis(t)
	c := NewRedisStatusCache(client, "", time.Minute)
	ctx := context.Background()

	// A reader takes the version, then a status write lands before the
	// reader's store result is cached.
	version, err := c.Version(ctx, "u-4")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "u-4"))

	err = c.Set(ctx, "u-4", StatusEntry{StatusAccess: types.AccessActive}, version)
	assert.ErrorIs(t, err, ErrStale)
	assert.False(t, server.Exists("access:status:u-4"))

	// The next reader sees the new version and may fill the cache.
	version, err = c.Version(ctx, "u-4")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "u-4", StatusEntry{StatusAccess: types.AccessRevoked}, version))

	got, err := c.Get(ctx, "u-4")
	require.NoError(t, err)
	assert.Equal(t, types.AccessRevoked, got.StatusAccess)
}

func TestRedisStatusCacheExpires(t *testing.T) {
	client, server := newTestRedis(t)
	c := NewRedisStatusCache(client, "", 30*time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "u-3", StatusEntry{StatusAccess: types.AccessSuspended}, 0))
	server.FastForward(31 * time.Second)

	_, err := c.Get(ctx, "u-3")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestRedisStatusCacheRequiresUserID(t *testing.T) {
	client, _ := newTestRedis(t)
	c := NewRedisStatusCache(client, "", time.Minute)

	assert.Error(t, c.Set(context.Background(), " ", StatusEntry{}, 0))
}
