package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "cnw:meta"

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix. Default: "cnw:meta".
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// RedisStore implements Store using Redis, one JSON value per (license, key).
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewRedisStore wraps an existing Redis client. The caller keeps ownership of the client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	s := &RedisStore{client: client, prefix: defaultRedisPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DialRedisStore parses a redis:// URL, connects and verifies the connection with PING.
// The returned store owns the client and closes it on Close.
func DialRedisStore(ctx context.Context, url string, opts ...RedisOption) (*RedisStore, error) {
	if url == "" {
		url = "redis://localhost:6379"
	}
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	s, err := NewRedisStore(client, opts...)
	if err != nil {
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *RedisStore) key(licenseID int64, key string) string {
	return fmt.Sprintf("%s:%d:%s", s.prefix, licenseID, key)
}

func (s *RedisStore) Get(ctx context.Context, licenseID int64, key string) (Metadata, error) {
	data, err := s.client.Get(ctx, s.key(licenseID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Metadata{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	meta := Metadata{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

func (s *RedisStore) Update(ctx context.Context, licenseID int64, key string, meta Metadata) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := s.client.Set(ctx, s.key(licenseID, key), payload, 0).Err(); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

func (s *RedisStore) Close(_ context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
