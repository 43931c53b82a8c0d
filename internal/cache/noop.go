package cache

import (
	"context"
	"time"
)

// NoOpCache is a cache implementation that does nothing.
// Used as a fallback when Redis is unavailable: every lookup is a miss.
type NoOpCache struct{}

// NewNoOpCache creates a new no-op cache instance
func NewNoOpCache() *NoOpCache {
	return &NoOpCache{}
}

func (c *NoOpCache) Get(ctx context.Context, key string) (*Entry, error) {
	return nil, nil
}

func (c *NoOpCache) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	return nil
}

func (c *NoOpCache) InvalidateNamespace(ctx context.Context, namespace string) error {
	return nil
}

func (c *NoOpCache) Close() error {
	return nil
}
