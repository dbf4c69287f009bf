// Package redis persists the ledger document under a single Redis key.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/forum-lead-crawler/internal/ledger"
)

const defaultKey = "leadcrawler:ledger"

// Config holds the connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Close() error
}

// LedgerStore reads and writes the ledger document in Redis.
type LedgerStore struct {
	client client
	key    string
}

// New connects to Redis.
func New(cfg Config) (*LedgerStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	return NewWithClient(redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), cfg.Key)
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(c client, key string) (*LedgerStore, error) {
	if c == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if key == "" {
		key = defaultKey
	}
	return &LedgerStore{client: c, key: key}, nil
}

// Read returns the stored document or ledger.ErrNotFound.
func (s *LedgerStore) Read(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key, err)
	}
	return data, nil
}

// Write stores the document without expiry.
func (s *LedgerStore) Write(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *LedgerStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
