package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/couchcryptid/event-harvest-service/internal/domain"
)

// RedisStore is a Remote backed by Redis string keys holding JSON results.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an open client. The caller owns and closes it.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// OpenRedis connects to the server described by a redis:// URL and verifies
// it with PING.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (domain.GeocodingResult, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.GeocodingResult{}, false, nil
	}
	if err != nil {
		return domain.GeocodingResult{}, false, err
	}
	var result domain.GeocodingResult
	if err := json.Unmarshal(data, &result); err != nil {
		return domain.GeocodingResult{}, false, fmt.Errorf("decode cached result: %w", err)
	}
	return result, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, result domain.GeocodingResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}
