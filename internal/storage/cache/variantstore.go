// --- File: internal/storage/cache/variantstore.go ---
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinywideclouds/go-apns-sender/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or redis.Nil if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedVariantStore is a Decorator that adds Read-Aside caching to any VariantStore.
type CachedVariantStore struct {
	realStore dispatch.VariantStore
	cache     CacheClient
	ttl       time.Duration
	logger    *slog.Logger
}

func NewCachedVariantStore(realStore dispatch.VariantStore, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedVariantStore {
	return &CachedVariantStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
		logger:    logger.With("component", "CachedVariantStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedVariantStore) Fetch(ctx context.Context, variantID string) (*dispatch.Variant, error) {
	key := s.cacheKey(variantID)

	var cached dispatch.Variant
	err := s.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("Variant cache read failed, using store", "variant_id", variantID, "err", err)
	}

	fresh, err := s.realStore.Fetch(ctx, variantID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; a Redis outage only costs a store read.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Warn("Variant cache write failed", "variant_id", variantID, "err", err)
	}
	return fresh, nil
}

// --- INVALIDATION ---

// InvalidateVariant drops the cached credentials so the next Fetch rereads
// the store. It satisfies dispatch.VariantInvalidator.
func (s *CachedVariantStore) InvalidateVariant(ctx context.Context, variantID string) {
	if err := s.cache.Del(ctx, s.cacheKey(variantID)); err != nil {
		s.logger.Warn("Variant cache eviction failed", "variant_id", variantID, "err", err)
	}
}

func (s *CachedVariantStore) cacheKey(variantID string) string {
	return fmt.Sprintf("apns:variants:%s", variantID)
}
