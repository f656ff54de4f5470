package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/resilience"
)

var errMiss = errors.New("miss")

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
	gets int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte), ttls: make(map[string]time.Duration)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.err != nil {
		return nil, s.err
	}
	v, ok := s.data[key]
	if !ok {
		return nil, errMiss
	}
	return v, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

func plan(t *testing.T, q string) *parser.QueryPlan {
	t.Helper()
	p, err := parser.Parse(q, tokenizer.Standard{})
	require.NoError(t, err)
	return p
}

func newCache(store Store, hits, misses prometheus.Counter) *QueryCache {
	return New(store, Options{
		TTL:     time.Minute,
		Breaker: resilience.BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour},
		IsMiss:  func(err error) bool { return errors.Is(err, errMiss) },
		Hits:    hits,
		Misses:  misses,
		Logger:  logger.Discard(),
	})
}

func counting(calls *atomic.Int32) func(context.Context) (*executor.SearchResult, error) {
	return func(context.Context) (*executor.SearchResult, error) {
		calls.Add(1)
		return &executor.SearchResult{Query: "fox", TotalHits: 1}, nil
	}
}

func TestGetOrComputeCachesByGeneration(t *testing.T) {
	store := newMemStore()
	hits := prometheus.NewCounter(prometheus.CounterOpts{Name: "hits"})
	misses := prometheus.NewCounter(prometheus.CounterOpts{Name: "misses"})
	c := newCache(store, hits, misses)
	ctx := context.Background()
	var calls atomic.Int32
	gens := map[string]uint64{"shard-0": 3, "shard-1": 5}

	res, hit, err := c.GetOrCompute(ctx, plan(t, "fox"), 10, gens, counting(&calls))
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, res.TotalHits)

	res, hit, err = c.GetOrCompute(ctx, plan(t, "FOX"), 10, gens, counting(&calls))
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "fox", res.Query)
	assert.Equal(t, int32(1), calls.Load())

	_, hit, err = c.GetOrCompute(ctx, plan(t, "fox"), 10, map[string]uint64{"shard-0": 4, "shard-1": 5}, counting(&calls))
	require.NoError(t, err)
	assert.False(t, hit, "a new generation misses")

	_, hit, err = c.GetOrCompute(ctx, plan(t, "fox"), 20, gens, counting(&calls))
	require.NoError(t, err)
	assert.False(t, hit, "limit is part of the key")

	h, m := c.Stats()
	assert.Equal(t, int64(1), h)
	assert.Equal(t, int64(3), m)
	assert.Equal(t, 1.0, testutil.ToFloat64(hits))
	assert.Equal(t, 3.0, testutil.ToFloat64(misses))
	for _, ttl := range store.ttls {
		assert.Equal(t, time.Minute, ttl)
	}
}

func TestGetOrComputePropagatesComputeError(t *testing.T) {
	c := newCache(newMemStore(), nil, nil)
	boom := errors.New("boom")
	_, _, err := c.GetOrCompute(context.Background(), plan(t, "fox"), 10, nil,
		func(context.Context) (*executor.SearchResult, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
}

func TestBrokenStoreTripsBreakerButSearchesSucceed(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection refused")
	c := newCache(store, nil, nil)
	ctx := context.Background()
	var calls atomic.Int32

	for i := 0; i < 5; i++ {
		res, hit, err := c.GetOrCompute(ctx, plan(t, "fox"), 10, nil, counting(&calls))
		require.NoError(t, err)
		assert.False(t, hit)
		assert.NotNil(t, res)
	}
	assert.Equal(t, int32(5), calls.Load())
	assert.Equal(t, resilience.StateOpen, c.BreakerState())
	assert.Equal(t, 1, store.gets, "the failed get and set trip the breaker")
}

func TestMissesDoNotTripBreaker(t *testing.T) {
	c := newCache(newMemStore(), nil, nil)
	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		_, _, err := c.GetOrCompute(context.Background(), plan(t, "fox"), i+1, nil, counting(&calls))
		require.NoError(t, err)
	}
	assert.Equal(t, resilience.StateClosed, c.BreakerState())
}

func TestNilStoreAlwaysComputes(t *testing.T) {
	c := New(nil, Options{Logger: logger.Discard()})
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		_, hit, err := c.GetOrCompute(context.Background(), plan(t, "fox"), 10, nil, counting(&calls))
		require.NoError(t, err)
		assert.False(t, hit)
	}
	assert.Equal(t, int32(3), calls.Load())
}

func TestBuildKeyIsOrderIndependent(t *testing.T) {
	a := buildKey("AND|fox", 10, map[string]uint64{"shard-0": 1, "shard-1": 2})
	b := buildKey("AND|fox", 10, map[string]uint64{"shard-1": 2, "shard-0": 1})
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, buildKey("AND|fox", 10, map[string]uint64{"shard-0": 1, "shard-1": 3}))
	assert.Contains(t, a, keyPrefix)
}
