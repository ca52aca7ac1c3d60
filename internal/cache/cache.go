package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angelmondragon/recapz-backend/pkg/logger"
	"github.com/angelmondragon/recapz-backend/pkg/metrics"
)

const (
	defaultMaxItems      = 10000
	defaultEvictFraction = 0.10
	defaultSweepInterval = time.Minute
)

// Options configures a Cache. Zero values select the defaults.
type Options struct {
	MaxItems      int
	EvictFraction float64
	SweepInterval time.Duration
	Logger        *logger.Logger
	Now           func() time.Time
}

type entry struct {
	value      any
	expiresAt  time.Time
	lastAccess atomic.Int64
}

// Cache is a process-local TTL cache with a capacity bound. Lookups take
// the shared lock only; recency is tracked with atomics so concurrent reads
// never serialise.
type Cache struct {
	mu    sync.RWMutex
	items map[string]*entry

	maxItems      int
	evictFraction float64
	sweepInterval time.Duration
	logg          *logger.Logger
	now           func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	evictions   atomic.Uint64
	expirations atomic.Uint64

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// Stats is an exact snapshot of the cache counters.
type Stats struct {
	Hits        uint64
	Misses      uint64
	HitRate     float64
	Items       int
	Evictions   uint64
	Expirations uint64
}

func New(opts Options) *Cache {
	c := &Cache{
		items:         make(map[string]*entry),
		maxItems:      opts.MaxItems,
		evictFraction: opts.EvictFraction,
		sweepInterval: opts.SweepInterval,
		logg:          opts.Logger,
		now:           opts.Now,
	}
	if c.maxItems <= 0 {
		c.maxItems = defaultMaxItems
	}
	if c.evictFraction <= 0 || c.evictFraction > 1 {
		c.evictFraction = defaultEvictFraction
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = defaultSweepInterval
	}
	if c.logg == nil {
		c.logg = logger.Nop()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// Get returns a live value. Expired entries count as misses and are dropped.
func (c *Cache) Get(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	now := c.now()
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if now.After(e.expiresAt) {
		c.misses.Add(1)
		c.dropExpired(key, e)
		return nil, false
	}
	e.lastAccess.Store(now.UnixNano())
	c.hits.Add(1)
	return e.value, true
}

// peek returns a live value without touching the counters or recency.
func (c *Cache) peek(key string) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// GetAs returns a live value of type T. A value of another type is a miss.
func GetAs[T any](c *Cache, key string) (T, bool) {
	var zero T
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Set stores value under key. A non-positive ttl selects the namespace
// default. Exceeding the capacity bound evicts the least recently accessed
// fraction of entries.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = namespaceOf(key).TTL()
	}
	now := c.now()
	e := &entry{value: value, expiresAt: now.Add(ttl)}
	e.lastAccess.Store(now.UnixNano())

	c.mu.Lock()
	c.items[key] = e
	evicted := 0
	if len(c.items) > c.maxItems {
		evicted = c.evictLocked()
	}
	c.mu.Unlock()

	if evicted > 0 {
		c.evictions.Add(uint64(evicted))
	}
}

// Delete removes a single key.
func (c *Cache) Delete(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Invalidate removes the exact key and every key nested under it. A target
// ending in ':' is treated as a raw prefix, so "account:" clears the whole
// namespace, as does "account".
func (c *Cache) Invalidate(target string) int {
	if c == nil || target == "" {
		return 0
	}
	prefix := target
	if !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.items {
		if key == target || strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of held entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Stats returns the exact counters.
func (c *Cache) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Hits:        hits,
		Misses:      misses,
		HitRate:     rate,
		Items:       c.Len(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

// Snapshot adapts Stats for the Prometheus collectors.
func (c *Cache) Snapshot() metrics.CacheSnapshot {
	s := c.Stats()
	return metrics.CacheSnapshot{
		Hits:        s.Hits,
		Misses:      s.Misses,
		Evictions:   s.Evictions,
		Expirations: s.Expirations,
		Items:       s.Items,
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	removed := 0
	for key, e := range c.items {
		if now.After(e.expiresAt) {
			delete(c.items, key)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		c.expirations.Add(uint64(removed))
	}
	return removed
}

// Start runs the background sweeper until ctx is done or Stop is called.
func (c *Cache) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := c.Sweep(); removed > 0 {
					c.logg.Debug(c.logg.WithField(ctx, "removed", removed), "cache.sweep")
				}
			}
		}
	}()
}

// Stop halts the sweeper started by Start and waits for it to exit.
func (c *Cache) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel == nil {
			return
		}
		c.cancel()
		<-c.done
	})
}

func (c *Cache) dropExpired(key string, e *entry) {
	c.mu.Lock()
	if current, ok := c.items[key]; ok && current == e {
		delete(c.items, key)
		c.mu.Unlock()
		c.expirations.Add(1)
		return
	}
	c.mu.Unlock()
}

// evictLocked drops the least recently accessed fraction of entries, at
// least one. Callers hold the write lock.
func (c *Cache) evictLocked() int {
	n := int(float64(len(c.items)) * c.evictFraction)
	if n < 1 {
		n = 1
	}
	type candidate struct {
		key  string
		last int64
	}
	candidates := make([]candidate, 0, len(c.items))
	for key, e := range c.items {
		candidates = append(candidates, candidate{key: key, last: e.lastAccess.Load()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].last < candidates[j].last
	})
	for _, cand := range candidates[:n] {
		delete(c.items, cand.key)
	}
	return n
}
