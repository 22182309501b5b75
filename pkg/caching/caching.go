package caching

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/metrics"
)

// Store caches extracted page content keyed by URL.
type Store interface {
	Get(ctx context.Context, url string) ([]byte, bool)
	Set(ctx context.Context, url string, data []byte) error
}

// New builds the store selected by cfg. Backend "none" or "" returns nil.
func New(cfg models.CacheConfig) (Store, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "file":
		return NewCache(cfg.Dir, cfg.TTL)
	case "redis":
		return NewRedisCache(cfg.RedisAddr, cfg.RedisDB, cfg.KeyPrefix, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

// Cache provides a simple file-based cache with a TTL.
type Cache struct {
	path string
	ttl  time.Duration
}

// NewCache creates a new Cache instance.
// The cache path will be created if it doesn't exist.
func NewCache(path string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{
		path: path,
		ttl:  ttl,
	}, nil
}

// key generates a SHA256 hash of the URL to use as a filename.
func key(url string) string {
	hash := sha256.Sum256([]byte(url))
	return fmt.Sprintf("%x", hash)
}

// Get returns the data and true if the item is found and not expired.
func (c *Cache) Get(_ context.Context, url string) ([]byte, bool) {
	filePath := filepath.Join(c.path, key(url))

	info, err := os.Stat(filePath)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("file", "miss").Inc()
		return nil, false
	}
	if c.ttl > 0 && time.Since(info.ModTime()) > c.ttl {
		metrics.CacheLookups.WithLabelValues("file", "expired").Inc()
		return nil, false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		metrics.CacheLookups.WithLabelValues("file", "miss").Inc()
		return nil, false
	}

	metrics.CacheLookups.WithLabelValues("file", "hit").Inc()
	return data, true
}

// Set adds an item to the cache.
func (c *Cache) Set(_ context.Context, url string, data []byte) error {
	filePath := filepath.Join(c.path, key(url))
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		return fmt.Errorf("failed to write to cache: %w", err)
	}
	return nil
}
