// Package cache provides the shared cache used for webhook deduplication and
// catalog lookups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("key not found")

// Provider is the minimal cache contract shared by the memory and redis
// backends.
type Provider interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
}

func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "memory", "":
		return NewMemoryProvider()
	case "redis":
		return NewRedisProvider(cfg.RedisConnectionString)
	default:
		return nil, fmt.Errorf("unsupported cache provider: %s", cfg.Provider)
	}
}

// WebhookKey dedupes inbound gateway callbacks by invoice id.
func WebhookKey(source, invoiceID string) string {
	return fmt.Sprintf("webhook:%s:%s", source, invoiceID)
}

// CatalogKey caches plan-catalog lookups by package slug or id.
func CatalogKey(ref string) string {
	return "catalog:" + ref
}
