package scoring

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"accord/internal/scoring/metrics"
	"accord/pkg/requestcontext"
)

// Entry is a cached value with its freshness bounds.
type Entry[T any] struct {
	Value      T         `json:"value"`
	CachedAt   time.Time `json:"cached_at"`
	StaleAfter time.Time `json:"stale_after"`
}

// Result is what a cache read hands back.
type Result[T any] struct {
	Value    T
	CachedAt time.Time
	Stale    bool
}

// L2 is an optional shared cache behind the in-process LRU.
type L2[T any] interface {
	Get(ctx context.Context, key string) (Entry[T], bool, error)
	Set(ctx context.Context, key string, e Entry[T], ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Cache is a bounded LRU of derived values keyed by standard id. Concurrent
// misses for one key share a single recompute; other keys are unaffected.
// Entries past their TTL are recomputed on read.
type Cache[T any] struct {
	name    string
	ttl     time.Duration
	lru     *lru.Cache[string, Entry[T]]
	l2      L2[T]
	group   singleflight.Group
	logger  *slog.Logger
	metrics *metrics.Metrics

	genMu       sync.Mutex
	generations map[string]uint64
}

// NewCache builds a cache holding at most size entries.
func NewCache[T any](name string, size int, ttl time.Duration, l2 L2[T], logger *slog.Logger, m *metrics.Metrics) (*Cache[T], error) {
	l, err := lru.New[string, Entry[T]](size)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache[T]{
		name:        name,
		ttl:         ttl,
		lru:         l,
		l2:          l2,
		logger:      logger,
		metrics:     m,
		generations: make(map[string]uint64),
	}, nil
}

// Get returns the cached value for key. A missing or expired entry is
// recomputed through compute; when that recompute fails, an expired entry
// that was not invalidated is served instead, flagged stale.
func (c *Cache[T]) Get(ctx context.Context, key string, compute func(context.Context) (T, error)) (Result[T], error) {
	now := requestcontext.Now(ctx)
	cached, found := c.lru.Get(key)
	if found && !expired(cached, now) {
		c.metrics.IncrementLookup(c.name, "hit")
		return Result[T]{Value: cached.Value, CachedAt: cached.CachedAt}, nil
	}

	gen := c.generation(key)
	v, err, _ := c.group.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		if e, ok := c.lru.Get(key); ok && !expired(e, now) {
			return e, nil
		}
		if e, ok := c.fromL2(ctx, key); ok && !expired(e, now) {
			if c.generation(key) == gen {
				c.lru.Add(key, e)
			}
			c.metrics.IncrementLookup(c.name, "l2_hit")
			return e, nil
		}

		if found {
			c.metrics.IncrementLookup(c.name, "expired")
		} else {
			c.metrics.IncrementLookup(c.name, "miss")
		}
		start := time.Now()
		value, err := compute(ctx)
		c.metrics.ObserveRecompute(c.name, time.Since(start))
		if err != nil {
			return nil, err
		}
		e := Entry[T]{Value: value, CachedAt: now, StaleAfter: now.Add(c.ttl)}
		// A concurrent invalidation means value may predate the change.
		if c.generation(key) == gen {
			c.lru.Add(key, e)
			c.toL2(ctx, key, e)
		}
		return e, nil
	})
	if err != nil {
		if found && c.generation(key) == gen {
			c.metrics.IncrementLookup(c.name, "stale")
			c.logger.Warn("recompute failed, serving stale cache entry",
				"cache", c.name,
				"key", key,
				"cached_at", cached.CachedAt,
				"error", err,
			)
			return Result[T]{Value: cached.Value, CachedAt: cached.CachedAt, Stale: true}, nil
		}
		var zero Result[T]
		return zero, err
	}
	e := v.(Entry[T])
	return Result[T]{Value: e.Value, CachedAt: e.CachedAt, Stale: expired(e, now)}, nil
}

func expired[T any](e Entry[T], now time.Time) bool {
	return now.After(e.StaleAfter)
}

// Invalidate drops key from every layer.
func (c *Cache[T]) Invalidate(ctx context.Context, key string) {
	c.genMu.Lock()
	c.generations[key]++
	c.genMu.Unlock()

	c.lru.Remove(key)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, key); err != nil {
			c.metrics.IncrementL2Error(c.name, "delete")
			c.logger.Warn("failed to invalidate shared cache", "cache", c.name, "key", key, "error", err)
		}
	}
	c.metrics.IncrementInvalidation(c.name)
}

// Len reports the in-process entry count.
func (c *Cache[T]) Len() int { return c.lru.Len() }

func (c *Cache[T]) generation(key string) uint64 {
	c.genMu.Lock()
	defer c.genMu.Unlock()
	return c.generations[key]
}

func (c *Cache[T]) fromL2(ctx context.Context, key string) (Entry[T], bool) {
	if c.l2 == nil {
		return Entry[T]{}, false
	}
	e, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		c.metrics.IncrementL2Error(c.name, "get")
		c.logger.Warn("shared cache read failed", "cache", c.name, "key", key, "error", err)
		return Entry[T]{}, false
	}
	return e, ok
}

func (c *Cache[T]) toL2(ctx context.Context, key string, e Entry[T]) {
	if c.l2 == nil {
		return
	}
	if err := c.l2.Set(ctx, key, e, c.ttl); err != nil {
		c.metrics.IncrementL2Error(c.name, "set")
		c.logger.Warn("shared cache write failed", "cache", c.name, "key", key, "error", err)
	}
}
