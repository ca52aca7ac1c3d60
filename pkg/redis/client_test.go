package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/recapz-backend/pkg/config"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	decision, err := client.FixedWindowAllow(ctx, "jobs-submit:account:a1", 2, time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !decision.Allowed || decision.Count != 1 {
		t.Fatalf("unexpected first decision %+v", decision)
	}
	if decision.RetryAfter != time.Minute {
		t.Fatalf("expected full window on first hit, got %s", decision.RetryAfter)
	}
	if mock.ttls["rz:rate_limit:jobs-submit:account:a1"] != time.Minute {
		t.Fatal("window ttl not started on first hit")
	}

	mock.ttls["rz:rate_limit:jobs-submit:account:a1"] = 20 * time.Second
	decision, _ = client.FixedWindowAllow(ctx, "jobs-submit:account:a1", 2, time.Minute)
	if !decision.Allowed || decision.Count != 2 {
		t.Fatalf("unexpected second decision %+v", decision)
	}

	decision, _ = client.FixedWindowAllow(ctx, "jobs-submit:account:a1", 2, time.Minute)
	if decision.Allowed {
		t.Fatal("expected limit reached")
	}
	if decision.RetryAfter != 20*time.Second {
		t.Fatalf("retry-after should follow the live ttl, got %s", decision.RetryAfter)
	}

	other, _ := client.FixedWindowAllow(ctx, "jobs-submit:account:a2", 2, time.Minute)
	if !other.Allowed || other.Count != 1 {
		t.Fatalf("scopes must not share counters: %+v", other)
	}
}

func TestFixedWindowRejectsBadWindow(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	if _, err := client.FixedWindowAllow(context.Background(), "s", 1, 0); err == nil {
		t.Fatal("expected error for zero window")
	}
}

func TestFixedWindowPropagatesErrors(t *testing.T) {
	mock := newMockCmdable()
	mock.evalErr = fmt.Errorf("READONLY You can't write against a read only replica")
	client := &Client{store: mock}
	if _, err := client.FixedWindowAllow(context.Background(), "s", 1, time.Second); err == nil {
		t.Fatal("expected eval error")
	}
}

func TestCompareAndDelete(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.LockKey("cron-worker:dev")
	mock.data[key] = "owner-a"

	deleted, err := client.CompareAndDelete(ctx, key, "owner-b")
	if err != nil || deleted {
		t.Fatalf("foreign owner must not delete: deleted=%v err=%v", deleted, err)
	}
	if _, ok := mock.data[key]; !ok {
		t.Fatal("key removed by foreign owner")
	}

	deleted, err = client.CompareAndDelete(ctx, key, "owner-a")
	if err != nil || !deleted {
		t.Fatalf("owner delete failed: deleted=%v err=%v", deleted, err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}
	key := client.IdempotencyKey("webhooks", "stripe:invoice.paid:evt_1")

	set, err := client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || !set {
		t.Fatalf("expected first setnx to succeed, set=%v err=%v", set, err)
	}
	set, err = client.SetNX(ctx, key, "1", time.Hour)
	if err != nil || set {
		t.Fatalf("expected second setnx to be rejected, set=%v err=%v", set, err)
	}
	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if _, err := client.SetNX(context.Background(), "k", "v", 0); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.FixedWindowAllow(context.Background(), "s", 1, time.Second); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close on uninitialized client: %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("webhooks", "evt_1"); got != "rz:idempotency:webhooks:evt_1" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("jobs-submit:account:a1"); got != "rz:rate_limit:jobs-submit:account:a1" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.LockKey("cron-worker:dev"); got != "rz:lock:cron-worker:dev" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.IdempotencyKey(" ", "evt_2"); got != "rz:idempotency:evt_2" {
		t.Fatalf("blank parts should be skipped, got %s", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://:pw@localhost:6379/3", PoolSize: 7, DialTimeout: time.Second})
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.DB != 3 || opts.Password != "pw" || opts.PoolSize != 7 || opts.DialTimeout != time.Second {
		t.Fatalf("unexpected options %+v", opts)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 2})
	if err != nil || opts.Addr != "cache:6379" || opts.DB != 2 {
		t.Fatalf("address config not applied: %+v err=%v", opts, err)
	}

	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
}

// mockCmdable emulates the two scripts the client evaluates.
type mockCmdable struct {
	data    map[string]string
	counts  map[string]int64
	ttls    map[string]time.Duration
	evalErr error
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:   map[string]string{},
		counts: map[string]int64{},
		ttls:   map[string]time.Duration{},
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if m.evalErr != nil {
		return redis.NewCmdResult(nil, m.evalErr)
	}
	key := keys[0]
	switch script {
	case fixedWindowScript:
		window := time.Duration(args[0].(int64)) * time.Millisecond
		m.counts[key]++
		if m.counts[key] == 1 {
			m.ttls[key] = window
		}
		return redis.NewCmdResult([]any{m.counts[key], m.ttls[key].Milliseconds()}, nil)
	case compareAndDeleteScript:
		if m.data[key] == args[0] {
			delete(m.data, key)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script"))
}
