package checkpoints

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avi3tal/fixloop/pkg/types"
	backend "github.com/redis/go-redis/v9"
)

// RedisStore keeps the latest checkpoint per key as a JSON value.
type RedisStore[S any] struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	ttl    time.Duration
}

// WithTTL sets the expiration for checkpoints.
func WithTTL(ttl time.Duration) RedisOption {
	return func(o *redisOptions) {
		o.ttl = ttl
	}
}

// WithPrefix sets the key prefix for checkpoints.
func WithPrefix(prefix string) RedisOption {
	return func(o *redisOptions) {
		o.prefix = prefix
	}
}

// NewRedisStore creates a store from an existing client.
func NewRedisStore[S any](client *backend.Client, opts ...RedisOption) *RedisStore[S] {
	o := redisOptions{prefix: "fixloop:checkpoint:"}
	for _, opt := range opts {
		opt(&o)
	}
	return &RedisStore[S]{
		client: client,
		prefix: o.prefix,
		ttl:    o.ttl,
	}
}

func (s *RedisStore[S]) key(key types.CheckpointKey) string {
	return s.prefix + key.GraphID + ":" + key.ThreadID
}

func (s *RedisStore[S]) Save(ctx context.Context, checkpoint types.Checkpoint[S]) error {
	checkpoint.Meta.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(checkpoint.Key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *RedisStore[S]) Load(ctx context.Context, key types.CheckpointKey) (*types.Checkpoint[S], error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, fmt.Errorf("%w: %v", types.ErrCheckpointNotFound, key)
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var cp types.Checkpoint[S]
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

func (s *RedisStore[S]) Delete(ctx context.Context, key types.CheckpointKey) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// Close closes the redis client.
func (s *RedisStore[S]) Close() error {
	return s.client.Close()
}
