package server

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/comunidade-maf/apiserver/config"
	"github.com/comunidade-maf/apiserver/internal/cache"
	"github.com/comunidade-maf/apiserver/internal/mq"
	"github.com/comunidade-maf/apiserver/internal/storage"
	"go.uber.org/zap"
)

// OpenStorage builds the certificate storage for the configured backend and
// makes sure its bucket exists.
func OpenStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, func() error, error) {
	var (
		backend storage.ObjectStorage
		closer  = func() error { return nil }
	)

	switch cfg.Backend {
	case "", "minio":
		client, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, nil, fmt.Errorf("minio: %w", err)
		}
		backend = client
	case "gcs":
		client, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, nil, fmt.Errorf("gcs: %w", err)
		}
		backend, closer = client, client.Close
	case "memory":
		backend = storage.NewMemoryClient(cfg.Minio.Bucket)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	st := storage.NewStorage(backend)
	if err := st.EnsureBucket(ctx); err != nil {
		_ = closer()
		return nil, nil, fmt.Errorf("ensure bucket %s: %w", st.Bucket(), err)
	}
	return st, closer, nil
}

// OpenBroker connects to the configured message broker. It returns nil when
// no broker is configured, in which case notifications are sent inline.
func OpenBroker(ctx context.Context, cfg config.MQConfig) (*mq.MQ, error) {
	var backend mq.Backend

	switch cfg.Backend {
	case "":
		return nil, nil
	case "rabbitmq":
		client, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, fmt.Errorf("rabbitmq: %w", err)
		}
		backend = client
	case "pubsub":
		client, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("pubsub: %w", err)
		}
		backend = client
	case "memory":
		backend = mq.NewMemoryClient()
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	return mq.New(backend), nil
}

// OpenStatusCache returns a Redis backed status cache, or a no-op cache when
// REDIS_URL is unset.
func OpenStatusCache(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (cache.StatusCache, io.Closer, error) {
	if cfg.URL == "" {
		logger.Info("status cache disabled")
		return cache.Noop{}, nopCloser{}, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	return cache.NewRedisStatusCache(client, "", ttl), client, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
