package provider

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/punchamoorthee/hostelpay/internal/clock"
)

const (
	// TokenTTL is how long a retrieved bearer token is trusted.
	TokenTTL = time.Hour
	// TokenSafetyMargin is subtracted from expiry so a token is never used right at its edge.
	TokenSafetyMargin = 10 * time.Second
)

// TokenCache stores the provider bearer credential between calls.
type TokenCache interface {
	Get(ctx context.Context) (string, bool)
	Set(ctx context.Context, token string, expiresAt time.Time) error
}

// MemoryTokenCache is process-scoped. It starts empty and is refilled on expiry.
type MemoryTokenCache struct {
	clock clock.Clock

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

func NewMemoryTokenCache(clk clock.Clock) *MemoryTokenCache {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &MemoryTokenCache{clock: clk}
}

func (c *MemoryTokenCache) Get(_ context.Context) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.clock.Now().Before(c.expiresAt.Add(-TokenSafetyMargin)) {
		return "", false
	}
	return c.token, true
}

func (c *MemoryTokenCache) Set(_ context.Context, token string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
	return nil
}

// RedisTokenCache shares the credential across service instances.
type RedisTokenCache struct {
	rdb   *redis.Client
	key   string
	clock clock.Clock
}

func NewRedisTokenCache(rdb *redis.Client, key string, clk clock.Clock) *RedisTokenCache {
	if key == "" {
		key = "hostelpay:provider:token"
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RedisTokenCache{rdb: rdb, key: key, clock: clk}
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, bool) {
	tok, err := c.rdb.Get(ctx, c.key).Result()
	if err != nil || tok == "" {
		return "", false
	}
	return tok, true
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(c.clock.Now()) - TokenSafetyMargin
	if ttl <= 0 {
		return errors.New("token already expired")
	}
	return c.rdb.Set(ctx, c.key, token, ttl).Err()
}
