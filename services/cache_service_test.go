package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/akemora/Granter-2.0-sub001/models"
)

func TestCacheServiceTTL(t *testing.T) {
	cache := NewCacheServiceWithConfig(time.Hour, 10)

	cache.Set("a", 1)
	cache.SetWithTTL("b", 2, -time.Second)

	if v, ok := cache.Get("a"); !ok || v.(int) != 1 {
		t.Fatalf("expected a=1, got %v %v", v, ok)
	}
	if _, ok := cache.Get("b"); ok {
		t.Fatal("expired entry returned")
	}

	if removed := cache.CleanupExpired(); removed != 1 {
		t.Errorf("expected 1 expired entry removed, got %d", removed)
	}
	if cache.Size() != 1 {
		t.Errorf("expected 1 entry left, got %d", cache.Size())
	}

	stats := cache.Stats()
	if stats["hits"].(int64) != 1 || stats["misses"].(int64) != 1 {
		t.Errorf("unexpected stats %v", stats)
	}

	cache.Clear()
	if cache.Size() != 0 {
		t.Errorf("Clear left %d entries", cache.Size())
	}
}

func TestCacheServiceEvictsClosestToExpiry(t *testing.T) {
	cache := NewCacheServiceWithConfig(time.Hour, 3)
	cache.SetWithTTL("short", 0, time.Minute)
	for i := 0; i < 2; i++ {
		cache.Set(fmt.Sprintf("k%d", i), i)
	}
	cache.Set("new", 99)

	if cache.Size() != 3 {
		t.Fatalf("expected size capped at 3, got %d", cache.Size())
	}
	if _, ok := cache.Get("short"); ok {
		t.Error("entry closest to expiry should have been evicted")
	}
	if cache.Stats()["evictions"].(int64) != 1 {
		t.Errorf("expected 1 eviction, got %v", cache.Stats()["evictions"])
	}
}

func TestCachedGrantIndex(t *testing.T) {
	index := &memoryGrantIndex{grants: []models.Grant{solarGrant()}}
	cached := NewCachedGrantIndex(index, NewCacheService(), time.Minute)

	for i := 0; i < 3; i++ {
		grants, err := cached.GetOpenGrants(context.Background())
		if err != nil || len(grants) != 1 {
			t.Fatalf("GetOpenGrants: %d grants, err %v", len(grants), err)
		}
	}
	if index.calls != 1 {
		t.Fatalf("expected 1 index call, got %d", index.calls)
	}

	cached.Invalidate()
	if _, err := cached.GetOpenGrants(context.Background()); err != nil {
		t.Fatal(err)
	}
	if index.calls != 2 {
		t.Errorf("expected reload after Invalidate, got %d calls", index.calls)
	}

	uncached := NewCachedGrantIndex(index, NewCacheService(), 0)
	_, _ = uncached.GetOpenGrants(context.Background())
	_, _ = uncached.GetOpenGrants(context.Background())
	if index.calls != 4 {
		t.Errorf("zero TTL must bypass the cache, got %d calls", index.calls)
	}
}

func TestCachedGrantIndexDoesNotCacheErrors(t *testing.T) {
	index := &memoryGrantIndex{err: errStorage}
	cached := NewCachedGrantIndex(index, NewCacheService(), time.Minute)

	if _, err := cached.GetOpenGrants(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	index.err = nil
	index.grants = []models.Grant{solarGrant()}
	grants, err := cached.GetOpenGrants(context.Background())
	if err != nil || len(grants) != 1 {
		t.Fatalf("expected fresh grants after error, got %d (err %v)", len(grants), err)
	}
}
