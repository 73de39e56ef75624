package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gitlab.com/timkado/api/identity-onboarding/internal/model"
)

const (
	requestKeyPrefix    = "onboarding:conn:req:"
	connectionKeyPrefix = "onboarding:conn:id:"
)

// RedisRegistry stores requestId <-> connectionId pairs with a TTL so a
// notification can reach a client that reconnected or never sent its
// connection ID with the trigger.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRegistry creates a registry. Entries expire after ttl.
func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

// NewRedisClient parses url and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Register stores both directions of the pair atomically.
func (r *RedisRegistry) Register(ctx context.Context, reg model.ConnectionRegistration) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, requestKeyPrefix+reg.RequestID, reg.ConnectionID, r.ttl)
		pipe.Set(ctx, connectionKeyPrefix+reg.ConnectionID, reg.RequestID, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register connection: %w", err)
	}
	return nil
}

// Unregister removes the pair owned by connectionID. Unknown IDs are a no-op.
func (r *RedisRegistry) Unregister(ctx context.Context, connectionID string) error {
	requestID, err := r.client.Get(ctx, connectionKeyPrefix+connectionID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("unregister connection: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, connectionKeyPrefix+connectionID)
	// Only drop the request entry if it still points at this connection.
	if current, err := r.client.Get(ctx, requestKeyPrefix+requestID).Result(); err == nil && current == connectionID {
		pipe.Del(ctx, requestKeyPrefix+requestID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("unregister connection: %w", err)
	}
	return nil
}

// Lookup returns the connection registered for requestID, or "" when none is.
func (r *RedisRegistry) Lookup(ctx context.Context, requestID string) (string, error) {
	connectionID, err := r.client.Get(ctx, requestKeyPrefix+requestID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup connection: %w", err)
	}
	return connectionID, nil
}

// Ping is used by the readiness probe.
func (r *RedisRegistry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
