// Package redis implements the cache adapter over Redis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"
)

// Store implements ingest.CacheStore. Values are stored as JSON under a
// prefixed key; the TTL is supplied per write by the pipeline.
type Store struct {
	client *backend.Client
	prefix string
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix sets the key prefix applied to every cache key.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "polywrite:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Put writes value as JSON under key with the given TTL. A zero TTL stores
// the key without expiration.
func (s *Store) Put(ctx context.Context, key string, value map[string]any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := s.client.Set(ctx, s.key(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("set cache key: %w", err)
	}
	return nil
}

// Delete removes key. Deleting a key that is absent, or that expired on its
// own, is not an error: the undo must be safe to repeat.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("delete cache key: %w", err)
	}
	return nil
}

// Get reads the JSON value stored under key, for diagnostics and tests.
func (s *Store) Get(ctx context.Context, key string) (map[string]any, error) {
	val, err := s.client.Get(ctx, s.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("get cache key: %w", err)
	}

	var value map[string]any
	if err := json.Unmarshal([]byte(val), &value); err != nil {
		return nil, fmt.Errorf("unmarshal cache value: %w", err)
	}
	return value, nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
