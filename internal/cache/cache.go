// Package cache provides caching for response payloads and query results.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	ResponseSizeMB int
	ResponseTTL    time.Duration
	QueryCacheSize int
}

// Manager manages the response and query caches.
type Manager struct {
	responseCache *bigcache.BigCache
	queryCache    *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	responseCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.ResponseTTL,
		CleanWindow:        cfg.ResponseTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       512 * 1024, // 512KB per response
		HardMaxCacheSize:   cfg.ResponseSizeMB,
		Verbose:            false,
	}

	responseCache, err := bigcache.New(context.Background(), responseCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	queryCache, err := lru.New[string, []byte](cfg.QueryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create query cache: %w", err)
	}

	return &Manager{
		responseCache: responseCache,
		queryCache:    queryCache,
	}, nil
}

// GetResponse retrieves a cached response payload.
func (m *Manager) GetResponse(key string) ([]byte, bool) {
	data, err := m.responseCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetResponse stores a response payload.
func (m *Manager) SetResponse(key string, data []byte) error {
	return m.responseCache.Set(key, data)
}

// GetQuery retrieves a query result from cache.
func (m *Manager) GetQuery(key string) ([]byte, bool) {
	return m.queryCache.Get(key)
}

// SetQuery stores a query result in cache.
func (m *Manager) SetQuery(key string, data []byte) {
	m.queryCache.Add(key, data)
}

// Fingerprint generates the deterministic cache key of a request: a hash of
// the method, path and JSON body.
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'|'})
	h.Write([]byte(path))
	h.Write([]byte{'|'})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"response_cache_len": m.responseCache.Len(),
		"response_cache_cap": m.responseCache.Capacity(),
		"query_cache_len":    m.queryCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.responseCache.Close()
}
