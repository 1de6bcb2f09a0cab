package cache

import (
	"context"
	"errors"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/bitmap-token-index/pkg/resilience"
)

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
	gets atomic.Int64
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.gets.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, goredis.Nil
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	return nil
}

func (s *memStore) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k := range s.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(s.data, k)
			n++
		}
	}
	return n, nil
}

var schema = config.SchemaConfig{
	Fields:       map[string]uint8{"title": 0, "body": 1},
	DefaultField: "body",
}

func mustParse(t *testing.T, q string) *parser.QueryPlan {
	t.Helper()
	plan, err := parser.Parse(q, schema)
	require.NoError(t, err)
	return plan
}

func TestBuildKeyIgnoresTermOrderAndCase(t *testing.T) {
	assert.Equal(t, BuildKey(mustParse(t, "bitmap index")), BuildKey(mustParse(t, "Index BITMAP")))
	assert.NotEqual(t, BuildKey(mustParse(t, "bitmap index")), BuildKey(mustParse(t, "bitmap OR index")))
	assert.NotEqual(t, BuildKey(mustParse(t, "bitmap")), BuildKey(mustParse(t, "title:bitmap")))
	assert.NotEqual(t, BuildKey(mustParse(t, "bitmap")), BuildKey(mustParse(t, `"bitmap"`)))
}

func TestGetOrComputeCachesBitmap(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil, nil)
	plan := mustParse(t, "bitmap")
	calls := 0
	compute := func() (*roaring.Bitmap, error) {
		calls++
		return roaring.BitmapOf(1, 5, 9), nil
	}

	bm, hit, err := c.GetOrCompute(context.Background(), plan, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, []uint32{1, 5, 9}, bm.ToArray())

	bm, hit, err = c.GetOrCompute(context.Background(), plan, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, []uint32{1, 5, 9}, bm.ToArray())
	assert.Equal(t, 1, calls)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestComputeErrorIsNotCached(t *testing.T) {
	store := newMemStore()
	c := New(store, time.Minute, nil, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), mustParse(t, "x1"), func() (*roaring.Bitmap, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, store.data)
}

func TestInvalidateDropsEntries(t *testing.T) {
	store := newMemStore()
	store.data["other:key"] = []byte("keep")
	c := New(store, time.Minute, nil, nil)
	c.Set(context.Background(), mustParse(t, "bitmap"), roaring.BitmapOf(3))

	n, err := c.Invalidate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok := c.Get(context.Background(), mustParse(t, "bitmap"))
	assert.False(t, ok)
	assert.Contains(t, store.data, "other:key")
}

func TestCorruptEntryIsMiss(t *testing.T) {
	store := newMemStore()
	plan := mustParse(t, "bitmap")
	store.data[BuildKey(plan)] = []byte{0xde, 0xad}
	c := New(store, time.Minute, nil, nil)
	_, ok := c.Get(context.Background(), plan)
	assert.False(t, ok)
}

func TestOpenBreakerSkipsStore(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	cb := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})
	c := New(store, time.Minute, cb, nil)
	plan := mustParse(t, "bitmap")

	for i := 0; i < 2; i++ {
		_, ok := c.Get(context.Background(), plan)
		assert.False(t, ok)
	}
	require.Equal(t, resilience.StateOpen, cb.State())

	before := store.gets.Load()
	_, ok := c.Get(context.Background(), plan)
	assert.False(t, ok)
	assert.Equal(t, before, store.gets.Load())
}

func TestMissingKeyDoesNotTripBreaker(t *testing.T) {
	cb := resilience.NewCircuitBreaker("redis", resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c := New(newMemStore(), time.Minute, cb, nil)
	for i := 0; i < 3; i++ {
		_, ok := c.Get(context.Background(), mustParse(t, "bitmap"))
		assert.False(t, ok)
	}
	assert.Equal(t, resilience.StateClosed, cb.State())
}
