package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestNamespaceDefaultTTLs(t *testing.T) {
	assert.Equal(t, 24*time.Hour, NamespaceMetadata.TTL())
	assert.Equal(t, 7*24*time.Hour, NamespaceTranscript.TTL())
	assert.Equal(t, 30*24*time.Hour, NamespaceSummary.TTL())
	assert.Equal(t, 10*time.Second, NamespaceAccount.TTL())
	assert.Equal(t, DefaultTTL, Namespace("other").TTL())
	assert.Equal(t, "metadata:yt:abc", Key(NamespaceMetadata, "yt", "abc"))
}

func TestGetHonoursNamespaceTTL(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Now: clock.Now})
	key := Key(NamespaceAccount, "acct-1")
	c.Set(key, 42, 0)

	got, ok := GetAs[int](c, key)
	require.True(t, ok)
	assert.Equal(t, 42, got)

	clock.Advance(11 * time.Second)
	_, ok = c.Get(key)
	assert.False(t, ok)

	stats := c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Expirations)
	assert.Equal(t, 0, stats.Items)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestGetAsTypeMismatchIsMiss(t *testing.T) {
	c := New(Options{})
	c.Set("summary:x", "text", time.Minute)
	_, ok := GetAs[int](c, "summary:x")
	assert.False(t, ok)
}

func TestCapacityEvictsLeastRecentlyAccessedTenPercent(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{MaxItems: 20, Now: clock.Now})
	for i := 0; i < 20; i++ {
		c.Set(fmt.Sprintf("metadata:%02d", i), i, 0)
		clock.Advance(time.Second)
	}
	// Touch the two oldest so they become the most recent.
	_, _ = c.Get("metadata:00")
	_, _ = c.Get("metadata:01")
	clock.Advance(time.Second)

	c.Set("metadata:new", 99, 0)

	// 21 entries * 10% = 2 evictions: the least recent are 02 and 03.
	assert.Equal(t, 19, c.Len())
	assert.EqualValues(t, 2, c.Stats().Evictions)
	for _, key := range []string{"metadata:00", "metadata:01", "metadata:04", "metadata:new"} {
		_, ok := c.Get(key)
		assert.True(t, ok, key)
	}
	for _, key := range []string{"metadata:02", "metadata:03"} {
		_, ok := c.Get(key)
		assert.False(t, ok, key)
	}
}

func TestCapacityEvictsAtLeastOne(t *testing.T) {
	c := New(Options{MaxItems: 2})
	c.Set("a:1", 1, time.Minute)
	c.Set("a:2", 2, time.Minute)
	c.Set("a:3", 3, time.Minute)
	assert.Equal(t, 2, c.Len())
	assert.EqualValues(t, 1, c.Stats().Evictions)
}

func TestInvalidateKeyAndPrefix(t *testing.T) {
	c := New(Options{})
	c.Set("account:a", 1, 0)
	c.Set("account:ab", 2, 0)
	c.Set("account:a:usage", 3, 0)
	c.Set("summary:a", 4, 0)

	assert.Equal(t, 2, c.Invalidate("account:a"))
	_, ok := c.Get("account:ab")
	assert.True(t, ok, "sibling key with shared prefix must survive")

	assert.Equal(t, 1, c.Invalidate("account"))
	assert.Equal(t, 1, c.Len())

	c.Set("metadata:x", 1, 0)
	assert.Equal(t, 1, c.Invalidate("metadata:"))
}

func TestSweepRemovesExpired(t *testing.T) {
	clock := newFakeClock()
	c := New(Options{Now: clock.Now})
	c.Set("account:1", 1, 0)
	c.Set("metadata:1", 1, 0)
	clock.Advance(time.Minute)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	assert.EqualValues(t, 1, c.Stats().Expirations)
}

func TestStartStopSweeper(t *testing.T) {
	c := New(Options{SweepInterval: time.Millisecond})
	c.Set("account:1", 1, time.Nanosecond)
	c.Start(context.Background())
	defer c.Stop()

	require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	c := New(Options{MaxItems: 50})
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("metadata:%d", (w*500+i)%80)
				c.Set(key, i, 0)
				_, _ = c.Get(key)
				if i%100 == 0 {
					c.Invalidate("metadata:1")
				}
			}
		}(w)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestContentKeyIsStableAndSharedAcrossCallers(t *testing.T) {
	a, err := ContentKey(NamespaceSummary, map[string]string{"model": "m", "transcript": "hello"})
	require.NoError(t, err)
	b, err := ContentKey(NamespaceSummary, map[string]string{"transcript": "hello", "model": "m"})
	require.NoError(t, err)
	other, err := ContentKey(NamespaceSummary, map[string]string{"transcript": "bye", "model": "m"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, other)
	assert.Contains(t, a, "summary:sha256:")
}

func TestGetOrComputeCollapsesConcurrentMisses(t *testing.T) {
	loader := NewLoader(New(Options{}))
	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, _, err := GetOrCompute(context.Background(), loader, "transcript:vid", 0, func(ctx context.Context) (string, error) {
				calls.Add(1)
				<-release
				return "text", nil
			})
			if err == nil {
				results[i] = v
			}
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		assert.Equal(t, "text", r)
	}

	v, cached, err := GetOrCompute(context.Background(), loader, "transcript:vid", 0, func(ctx context.Context) (string, error) {
		t.Fatal("must be served from cache")
		return "", nil
	})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "text", v)
}

func TestGetOrComputeDoesNotCacheErrors(t *testing.T) {
	loader := NewLoader(New(Options{}))
	boom := errors.New("boom")
	_, _, err := GetOrCompute(context.Background(), loader, "metadata:v", 0, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, loader.cache.Len())
}

func TestGetOrComputeCallerCancellation(t *testing.T) {
	loader := NewLoader(New(Options{}))
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	finish := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()
	_, _, err := GetOrCompute(ctx, loader, "summary:slow", 0, func(ctx context.Context) (string, error) {
		close(started)
		<-finish
		return "done", nil
	})
	require.ErrorIs(t, err, context.Canceled)
	close(finish)

	require.Eventually(t, func() bool {
		_, ok := loader.cache.Get("summary:slow")
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestGetOrComputeCountsOneMissPerLookup(t *testing.T) {
	c := New(Options{})
	loader := NewLoader(c)
	compute := func(ctx context.Context) (string, error) { return "meta", nil }

	_, cached, err := GetOrCompute(context.Background(), loader, "metadata:vid", 0, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	stats := c.Stats()
	assert.EqualValues(t, 0, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)

	_, cached, err = GetOrCompute(context.Background(), loader, "metadata:vid", 0, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	stats = c.Stats()
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
}

func TestLoaderStopCancelsSharedComputation(t *testing.T) {
	loader := NewLoader(New(Options{}))
	started := make(chan struct{})
	result := make(chan error, 1)

	go func() {
		_, _, err := GetOrCompute(context.Background(), loader, "transcript:slow", 0, func(ctx context.Context) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		})
		result <- err
	}()
	<-started
	loader.Stop()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("computation outlived the loader")
	}
	assert.Equal(t, 0, loader.cache.Len())

	_, _, err := GetOrCompute(context.Background(), loader, "transcript:late", 0, func(ctx context.Context) (string, error) {
		return "", ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
