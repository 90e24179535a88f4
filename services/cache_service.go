package services

import (
	"context"
	"sync"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
	"github.com/akemora/Granter-2.0-sub001/shared"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// IsExpired checks if the cache entry has expired
func (ce *CacheEntry) IsExpired() bool {
	return time.Now().After(ce.ExpiresAt)
}

// CacheService is an in-memory TTL cache with a size cap. Expired entries
// are dropped on CleanupExpired, which the scheduler runs periodically.
type CacheService struct {
	cache      map[string]*CacheEntry
	mutex      sync.RWMutex
	defaultTTL time.Duration
	maxSize    int
	metrics    *shared.ServiceMetrics
}

// NewCacheService creates a cache using the default cache configuration
func NewCacheService() *CacheService {
	config := shared.NewDefaultUnifiedConfiguration()
	return NewCacheServiceWithConfig(config.Cache.DefaultTTL, config.Cache.MaxSize)
}

// NewCacheServiceWithConfig creates a cache service with custom configuration
func NewCacheServiceWithConfig(defaultTTL time.Duration, maxSize int) *CacheService {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &CacheService{
		cache:      make(map[string]*CacheEntry),
		defaultTTL: defaultTTL,
		maxSize:    maxSize,
		metrics:    shared.NewServiceMetrics("Cache_Service"),
	}
}

// Get retrieves a value from cache
func (cs *CacheService) Get(key string) (interface{}, bool) {
	cs.mutex.RLock()
	entry, exists := cs.cache[key]
	cs.mutex.RUnlock()

	if !exists || entry.IsExpired() {
		cs.metrics.IncrementCounter("misses")
		return nil, false
	}

	cs.metrics.IncrementCounter("hits")
	return entry.Data, true
}

// Set stores a value in cache with default TTL
func (cs *CacheService) Set(key string, value interface{}) {
	cs.SetWithTTL(key, value, cs.defaultTTL)
}

// SetWithTTL stores a value in cache with custom TTL
func (cs *CacheService) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	if _, exists := cs.cache[key]; !exists && len(cs.cache) >= cs.maxSize {
		cs.evictOldest()
	}

	cs.cache[key] = &CacheEntry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}
}

// evictOldest removes the entry closest to expiry
func (cs *CacheService) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range cs.cache {
		if oldestKey == "" || entry.ExpiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.ExpiresAt
		}
	}

	if oldestKey != "" {
		delete(cs.cache, oldestKey)
		cs.metrics.IncrementCounter("evictions")
	}
}

// Delete removes a value from cache
func (cs *CacheService) Delete(key string) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	delete(cs.cache, key)
}

// Clear removes all values from cache
func (cs *CacheService) Clear() {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.cache = make(map[string]*CacheEntry)
}

// Size returns the number of items in cache
func (cs *CacheService) Size() int {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	return len(cs.cache)
}

// CleanupExpired removes expired entries and returns how many were removed
func (cs *CacheService) CleanupExpired() int {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	removed := 0
	for key, entry := range cs.cache {
		if entry.IsExpired() {
			delete(cs.cache, key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics
func (cs *CacheService) Stats() map[string]interface{} {
	return map[string]interface{}{
		"size":      cs.Size(),
		"type":      "in-memory",
		"hits":      cs.metrics.Counter("hits"),
		"misses":    cs.metrics.Counter("misses"),
		"evictions": cs.metrics.Counter("evictions"),
	}
}

const openGrantsCacheKey = "open_grants"

// CachedGrantIndex wraps a GrantIndex and caches the open grant list that
// every recommendation request scans. Single grant lookups are not cached
// so dispatch always sees the current status.
type CachedGrantIndex struct {
	index GrantIndex
	cache *CacheService
	ttl   time.Duration
}

// NewCachedGrantIndex creates a new cached grant index
func NewCachedGrantIndex(index GrantIndex, cache *CacheService, ttl time.Duration) *CachedGrantIndex {
	return &CachedGrantIndex{
		index: index,
		cache: cache,
		ttl:   ttl,
	}
}

// Get returns a grant by id from the wrapped index
func (c *CachedGrantIndex) Get(ctx context.Context, id uuid.UUID) (*models.Grant, error) {
	return c.index.Get(ctx, id)
}

// GetOpenGrants returns open grants, using cache when possible. The returned
// slice is shared and must not be modified.
func (c *CachedGrantIndex) GetOpenGrants(ctx context.Context) ([]models.Grant, error) {
	if c.ttl > 0 {
		if cached, found := c.cache.Get(openGrantsCacheKey); found {
			if grants, ok := cached.([]models.Grant); ok {
				return grants, nil
			}
		}
	}

	grants, err := c.index.GetOpenGrants(ctx)
	if err != nil {
		return nil, err
	}

	if c.ttl > 0 {
		c.cache.SetWithTTL(openGrantsCacheKey, grants, c.ttl)
	}
	return grants, nil
}

// Invalidate drops the cached open grant list. Called when grants are
// ingested or closed.
func (c *CachedGrantIndex) Invalidate() {
	c.cache.Delete(openGrantsCacheKey)
	logrus.WithField("component", "CachedGrantIndex").Debug("Open grants cache invalidated")
}
