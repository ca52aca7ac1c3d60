package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Loader collapses concurrent misses for the same key into one computation.
type Loader struct {
	cache *Cache
	group singleflight.Group

	// ctx bounds shared computations; Stop cancels it.
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func NewLoader(c *Cache) *Loader {
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{cache: c, ctx: ctx, cancel: cancel}
}

// Stop cancels computations still in flight. Later misses fail with
// context.Canceled.
func (l *Loader) Stop() {
	l.stopOnce.Do(l.cancel)
}

// detach derives the context of a shared computation: the caller's values,
// cancelled only when the loader stops.
func (l *Loader) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unregister := context.AfterFunc(l.ctx, cancel)
	if l.ctx.Err() != nil {
		cancel()
	}
	return shared, func() {
		unregister()
		cancel()
	}
}

// GetOrCompute returns the cached value for key or runs compute once for all
// concurrent callers and stores its result. cached reports whether the value
// came from the cache. The shared computation outlives any single caller's
// cancellation but not the loader; a caller whose ctx ends stops waiting.
func GetOrCompute[T any](ctx context.Context, l *Loader, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (value T, cached bool, err error) {
	if hit, ok := GetAs[T](l.cache, key); ok {
		return hit, true, nil
	}

	ch := l.group.DoChan(key, func() (any, error) {
		// A concurrent flight may have stored it since the miss above.
		if raw, ok := l.cache.peek(key); ok {
			if hit, ok := raw.(T); ok {
				return hit, nil
			}
		}
		shared, release := l.detach(ctx)
		defer release()
		computed, err := compute(shared)
		if err != nil {
			return nil, err
		}
		l.cache.Set(key, computed, ttl)
		return computed, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		typed, ok := res.Val.(T)
		if !ok {
			return zero, false, fmt.Errorf("cache key %s holds %T", key, res.Val)
		}
		return typed, false, nil
	}
}
