// Package cache memoizes search results in Redis. Keys include the committed
// generation of every shard, so a commit anywhere makes older entries
// unreachable and they simply expire.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/searchindex/internal/searcher/parser"
	pkgredis "github.com/Adithya-Monish-Kumar-K/searchindex/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/searchindex/pkg/resilience"
)

const keyPrefix = "search:"

// Store is the byte-level backend, normally *pkgredis.Client.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type Options struct {
	TTL     time.Duration
	Breaker resilience.BreakerConfig
	// IsMiss reports whether a Get error means the key is absent.
	// Defaults to the Redis nil reply check.
	IsMiss func(error) bool
	Hits   prometheus.Counter
	Misses prometheus.Counter
	Logger *slog.Logger
}

type QueryCache struct {
	store   Store
	ttl     time.Duration
	isMiss  func(error) bool
	breaker *resilience.Breaker
	group   singleflight.Group
	logger  *slog.Logger

	hits        atomic.Int64
	misses      atomic.Int64
	hitsTotal   prometheus.Counter
	missesTotal prometheus.Counter
}

// New returns a cache over store. A nil store disables caching; every call
// computes.
func New(store Store, opts Options) *QueryCache {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	isMiss := opts.IsMiss
	if isMiss == nil {
		isMiss = pkgredis.IsNilError
	}
	bcfg := opts.Breaker
	bcfg.IsFailure = func(err error) bool { return err != nil && !isMiss(err) }
	return &QueryCache{
		store:       store,
		ttl:         opts.TTL,
		isMiss:      isMiss,
		breaker:     resilience.NewBreaker("query-cache", bcfg),
		logger:      logger.With("component", "query-cache"),
		hitsTotal:   opts.Hits,
		missesTotal: opts.Misses,
	}
}

// GetOrCompute returns the cached result for plan at the given shard
// generations, or runs compute once per key across concurrent callers and
// caches its result. The bool reports a cache hit. Cache failures are
// logged and never fail the search.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	plan *parser.QueryPlan,
	limit int,
	generations map[string]uint64,
	compute func(context.Context) (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if c.store == nil {
		res, err := compute(ctx)
		return res, false, err
	}
	key := buildKey(plan.Normalized(), limit, generations)
	if result, ok := c.get(ctx, key); ok {
		c.recordHit()
		return result, true, nil
	}
	val, err, _ := c.group.Do(key, func() (any, error) {
		result, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, result)
		return result, nil
	})
	c.recordMiss()
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.SearchResult), false, nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the state of the breaker guarding the store.
func (c *QueryCache) BreakerState() resilience.State {
	return c.breaker.State()
}

func (c *QueryCache) get(ctx context.Context, key string) (*executor.SearchResult, bool) {
	var data []byte
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		data, err = c.store.Get(ctx, key)
		return err
	})
	if err != nil {
		if !c.isMiss(err) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		return nil, false
	}
	return &result, true
}

func (c *QueryCache) set(ctx context.Context, key string, result *executor.SearchResult) {
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	err = c.breaker.Do(ctx, func(ctx context.Context) error {
		return c.store.Set(ctx, key, data, c.ttl)
	})
	if err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *QueryCache) recordHit() {
	c.hits.Add(1)
	if c.hitsTotal != nil {
		c.hitsTotal.Inc()
	}
}

func (c *QueryCache) recordMiss() {
	c.misses.Add(1)
	if c.missesTotal != nil {
		c.missesTotal.Inc()
	}
}

func buildKey(normalized string, limit int, generations map[string]uint64) string {
	shards := make([]string, 0, len(generations))
	for name := range generations {
		shards = append(shards, name)
	}
	sort.Strings(shards)
	var b strings.Builder
	fmt.Fprintf(&b, "%s:limit=%d", normalized, limit)
	for _, name := range shards {
		fmt.Fprintf(&b, ":%s=%d", name, generations[name])
	}
	hash := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
