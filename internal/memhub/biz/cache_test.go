package biz

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// newTestRedis 连接本地 Redis，不可用时跳过测试。
func newTestRedis(t *testing.T) *goredis.Client {
	t.Helper()

	client := goredis.NewClient(&goredis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis 不可用，跳过: %v", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

func TestQueryCache_读写与命中(t *testing.T) {
	client := newTestRedis(t)
	cache := NewQueryCache(client, &QueryCacheConfig{
		Enabled:   true,
		TTL:       time.Minute,
		KeyPrefix: "memhub:test:query:",
	})
	ctx := context.Background()

	// 未命中
	got, err := cache.Get(ctx, "u1", "我的名字是什么")
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %v, %v", got, err)
	}

	want := &QueryResult{
		UserProfile:      "## 基本信息\n- 姓名：李雷",
		AugmentedContext: "## 用户画像\n...",
		QueryTimeMs:      12,
	}
	if err := cache.Set(ctx, "u1", "我的名字是什么", want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err = cache.Get(ctx, "u1", "我的名字是什么")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.UserProfile != want.UserProfile {
		t.Errorf("cache roundtrip mismatch: %+v", got)
	}
}

func TestQueryCache_按租户失效(t *testing.T) {
	client := newTestRedis(t)
	cache := NewQueryCache(client, &QueryCacheConfig{
		Enabled:   true,
		TTL:       time.Minute,
		KeyPrefix: "memhub:test:query:",
	})
	ctx := context.Background()

	_ = cache.Set(ctx, "u1", "查询甲", &QueryResult{QueryTimeMs: 1})
	_ = cache.Set(ctx, "u2", "查询乙", &QueryResult{QueryTimeMs: 2})

	if err := cache.InvalidateTenant(ctx, "u1"); err != nil {
		t.Fatalf("InvalidateTenant: %v", err)
	}

	if got, _ := cache.Get(ctx, "u1", "查询甲"); got != nil {
		t.Error("u1 cache should be invalidated")
	}
	if got, _ := cache.Get(ctx, "u2", "查询乙"); got == nil {
		t.Error("u2 cache should survive")
	}
}

func TestQueryCache_未启用时为空操作(t *testing.T) {
	cache := NewQueryCache(nil, nil)
	ctx := context.Background()

	if got, err := cache.Get(ctx, "u1", "q"); got != nil || err != nil {
		t.Errorf("disabled cache Get should be nil, nil; got %v, %v", got, err)
	}
	if err := cache.Set(ctx, "u1", "q", &QueryResult{}); err != nil {
		t.Errorf("disabled cache Set should be no-op: %v", err)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats["enabled"] != false {
		t.Errorf("expected enabled=false, got %v", stats)
	}
}
