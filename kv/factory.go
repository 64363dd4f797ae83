package kv

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	chatclient "github.com/creastat/chatclient"
)

// StoreType represents the type of key-value store.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// New creates a Store of the given type. Supports "memory" and "redis"
// driver types. For Redis, requires WithRedisClient.
func New(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return &inMemoryStore{
			values: make(map[string]string),
		}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, chatclient.ErrInvalidConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		prefix := config.keyPrefix
		if prefix == "" {
			prefix = "chatclient:"
		}
		return &redisStore{
			client: config.redisClient,
			ttl:    ttl,
			prefix: prefix,
		}, nil

	default:
		return nil, chatclient.ErrInvalidStoreType
	}
}

// inMemoryStore implements Store using an in-memory map.
type inMemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// Get implements Store.
func (s *inMemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, exists := s.values[key]
	return value, exists, nil
}

// Set implements Store.
func (s *inMemoryStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// Remove implements Store.
func (s *inMemoryStore) Remove(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

// Close implements Store.
func (s *inMemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = nil
	return nil
}

// redisStore implements Store using Redis. Every value is written with a
// TTL that is refreshed on read, so abandoned sessions age out.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// Get implements Store.
func (s *redisStore) Get(ctx context.Context, key string) (string, bool, error) {
	full := s.prefix + key
	val, err := s.client.Get(ctx, full).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, full, s.ttl).Err()

	return val, true, nil
}

// Set implements Store.
func (s *redisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

// Remove implements Store.
func (s *redisStore) Remove(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// Close implements Store.
func (s *redisStore) Close() error {
	return s.client.Close()
}
