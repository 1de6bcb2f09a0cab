// Package cache stores query result bitmaps in Redis.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/resilience"
)

const keyPrefix = "search:"

// Store is the subset of *pkgredis.Client the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	FlushByPattern(ctx context.Context, pattern string) (int64, error)
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New returns a cache over store. While breaker is open the store is not
// called and every lookup misses; a nil breaker always calls the store.
func New(store Store, ttl time.Duration, breaker *resilience.CircuitBreaker, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		store:   store,
		ttl:     ttl,
		breaker: breaker,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

// Get returns the cached matches of plan. Store and decode failures count
// as misses.
func (c *QueryCache) Get(ctx context.Context, plan *parser.QueryPlan) (*roaring.Bitmap, bool) {
	key := BuildKey(plan)
	var data []byte
	found := false
	err := c.guard(func() error {
		var err error
		data, err = c.store.Get(ctx, key)
		if pkgredis.IsNilError(err) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil || !found {
		if err != nil {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(data); err != nil {
		c.logger.Error("cache decode failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheLookup(true)
	c.logger.Debug("cache hit", "query", plan.RawQuery, "key", key)
	return bm, true
}

func (c *QueryCache) Set(ctx context.Context, plan *parser.QueryPlan, matches *roaring.Bitmap) {
	key := BuildKey(plan)
	matches.RunOptimize()
	data, err := matches.ToBytes()
	if err != nil {
		c.logger.Error("cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.guard(func() error { return c.store.Set(ctx, key, data, c.ttl) }); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached matches of plan or computes and stores
// them. Concurrent misses on the same plan share one computation. The bool
// reports a cache hit.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan *parser.QueryPlan,
	computeFn func() (*roaring.Bitmap, error),
) (*roaring.Bitmap, bool, error) {
	if bm, ok := c.Get(ctx, plan); ok {
		return bm, true, nil
	}
	val, err, _ := c.group.Do(BuildKey(plan), func() (interface{}, error) {
		bm, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, plan, bm)
		return bm, nil
	})
	if err != nil {
		return nil, false, err
	}
	// Callers sharing a flight get their own copy.
	return val.(*roaring.Bitmap).Clone(), false, nil
}

// Invalidate drops every cached result.
func (c *QueryCache) Invalidate(ctx context.Context) (int64, error) {
	deleted, err := c.store.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) guard(fn func() error) error {
	if c.breaker == nil {
		return fn()
	}
	return c.breaker.Execute(fn)
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheLookup(false)
}

// BuildKey maps plans that match the same documents to the same key.
func BuildKey(plan *parser.QueryPlan) string {
	return fmt.Sprintf("%s%016x", keyPrefix, xxhash.Sum64String(plan.Normalized()))
}
