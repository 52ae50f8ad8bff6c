package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/comunidade-maf/apiserver/types"
	red "github.com/redis/go-redis/v9"
)

const (
	defaultStatusPrefix = "access:status"
	versionTTL          = 24 * time.Hour
)

var (
	// ErrMiss is returned when no cached entry exists.
	ErrMiss = errors.New("cache miss")
	// ErrStale is returned by Set when the entry was invalidated after the
	// caller read its version. Nothing is written.
	ErrStale = errors.New("stale cache write")
)

// StatusEntry is the cached access state of a profile.
type StatusEntry struct {
	Role          types.Role         `json:"role"`
	StatusAccess  types.AccessStatus `json:"status_access"`
	VerifiedBadge bool               `json:"verified_badge"`
}

// StatusCache caches profile access state for request gating. Invalidate is
// called after every status write so readers revalidate against the store.
//
// Readers that refill the cache take Version before loading from the store
// and hand it to Set, which refuses the write if an Invalidate happened in
// between.
type StatusCache interface {
	Get(ctx context.Context, userID string) (StatusEntry, error)
	Version(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, entry StatusEntry, version int64) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisStatusCache stores entries as JSON strings with a fixed TTL.
type RedisStatusCache struct {
	client *red.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStatusCache(client *red.Client, keyPrefix string, ttl time.Duration) *RedisStatusCache {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultStatusPrefix
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisStatusCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisStatusCache) Get(ctx context.Context, userID string) (StatusEntry, error) {
	key := c.key(userID)
	if key == "" {
		return StatusEntry{}, fmt.Errorf("user id is required")
	}

	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return StatusEntry{}, ErrMiss
		}
		return StatusEntry{}, fmt.Errorf("redis get status: %w", err)
	}

	var entry StatusEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return StatusEntry{}, fmt.Errorf("decode cached status: %w", err)
	}
	return entry, nil
}

// Version returns the invalidation counter for userID, zero if it was
// never invalidated.
func (c *RedisStatusCache) Version(ctx context.Context, userID string) (int64, error) {
	key := c.versionKey(userID)
	if key == "" {
		return 0, fmt.Errorf("user id is required")
	}

	version, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, red.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get status version: %w", err)
	}
	return version, nil
}

// Set writes entry only while the invalidation counter still equals
// version. The check and the write run under WATCH.
func (c *RedisStatusCache) Set(ctx context.Context, userID string, entry StatusEntry, version int64) error {
	key := c.key(userID)
	if key == "" {
		return fmt.Errorf("user id is required")
	}
	verKey := c.versionKey(userID)

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *red.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, red.Nil) {
			return err
		}
		if current != version {
			return ErrStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe red.Pipeliner) error {
			pipe.Set(ctx, key, raw, c.ttl)
			return nil
		})
		return err
	}, verKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, red.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("redis set status: %w", err)
	}
}

// Invalidate drops the entry and bumps the version so refills that started
// earlier are discarded.
func (c *RedisStatusCache) Invalidate(ctx context.Context, userID string) error {
	key := c.key(userID)
	if key == "" {
		return fmt.Errorf("user id is required")
	}
	verKey := c.versionKey(userID)

	_, err := c.client.TxPipelined(ctx, func(pipe red.Pipeliner) error {
		pipe.Incr(ctx, verKey)
		pipe.Expire(ctx, verKey, versionTTL)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate status: %w", err)
	}
	return nil
}

func (c *RedisStatusCache) key(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return c.prefix + ":" + trimmed
}

func (c *RedisStatusCache) versionKey(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return c.prefix + ":ver:" + trimmed
}

// Noop never caches. It is used when REDIS_URL is unset.
type Noop struct{}

func (Noop) Get(context.Context, string) (StatusEntry, error) { return StatusEntry{}, ErrMiss }
func (Noop) Version(context.Context, string) (int64, error) { return 0, nil }
func (Noop) Set(context.Context, string, StatusEntry, int64) error { return nil }
func (Noop) Invalidate(context.Context, string) error { return nil }

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*red.Client, error) {
	opts, err := red.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := red.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
