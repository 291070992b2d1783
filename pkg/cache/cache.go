// Package cache memoizes generation backend replies in Redis. Identical
// prompts (same namespace, same text) reuse the stored reply until the TTL
// expires. Redis failures never fail a call; the backend is used directly.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhuss/kgquery/pkg/debug"
	"github.com/rhuss/kgquery/pkg/observability"
	"github.com/rhuss/kgquery/pkg/provider"
)

const keyPrefix = "kgquery:gen:"

// Config holds Redis connection and caching settings.
type Config struct {
	Address   string
	Password  string
	DB        int
	TTL       time.Duration
	Namespace string // usually the model name, so model switches miss the cache
}

// NewClient creates a Redis client for the given configuration.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
}

// Backend wraps a provider.Backend with a Redis-backed reply cache.
type Backend struct {
	next      provider.Backend
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

var _ provider.Backend = (*Backend)(nil)

// Wrap returns a caching Backend in front of next.
func Wrap(next provider.Backend, rdb *redis.Client, cfg Config) *Backend {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Backend{next: next, rdb: rdb, ttl: ttl, namespace: cfg.Namespace}
}

// Generate returns the cached reply for prompt, or calls the wrapped
// backend and stores its reply. Errors are never cached.
func (b *Backend) Generate(ctx context.Context, prompt string) (string, error) {
	key := b.Key(prompt)

	cached, err := b.rdb.Get(ctx, key).Result()
	switch {
	case err == nil:
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		debug.Log("cache", "hit", "key", key)
		return cached, nil
	case errors.Is(err, redis.Nil):
		observability.CacheLookupsTotal.WithLabelValues("miss").Inc()
	default:
		observability.CacheLookupsTotal.WithLabelValues("error").Inc()
		slog.Warn("backend cache lookup failed", "error", err)
	}

	out, err := b.next.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}

	if err := b.rdb.Set(ctx, key, out, b.ttl).Err(); err != nil {
		slog.Warn("backend cache store failed", "error", err)
	}
	return out, nil
}

// Key returns the Redis key used for prompt.
func (b *Backend) Key(prompt string) string {
	sum := sha256.Sum256([]byte(b.namespace + "\x00" + prompt))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Ping tests the Redis connection.
func (b *Backend) Ping(ctx context.Context) error {
	if err := b.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (b *Backend) Close() error {
	return b.rdb.Close()
}
