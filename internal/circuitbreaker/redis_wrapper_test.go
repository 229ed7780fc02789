package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"
)

func TestRedisWrapper_NormalOperations(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	wrapper := NewRedisWrapper(client, "report-store", zaptest.NewLogger(t))
	defer wrapper.Close()
	ctx := context.Background()

	if err := wrapper.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	err = wrapper.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, "report:1", "body", time.Minute)
		p.ZAdd(ctx, "report:index", redis.Z{Score: 1, Member: "1"})
		return nil
	})
	if err != nil {
		t.Errorf("Pipeline failed: %v", err)
	}

	var got string
	err = wrapper.Do(ctx, func(c redis.Cmdable) error {
		var err error
		got, err = c.Get(ctx, "report:1").Result()
		return err
	})
	if err != nil || got != "body" {
		t.Errorf("Expected 'body', got %q (%v)", got, err)
	}

	err = wrapper.Do(ctx, func(c redis.Cmdable) error {
		return c.Get(ctx, "report:missing").Err()
	})
	if !errors.Is(err, redis.Nil) {
		t.Errorf("Expected redis.Nil for non-existent key, got %v", err)
	}
	if wrapper.IsCircuitBreakerOpen() {
		t.Error("Circuit breaker should remain closed for redis.Nil")
	}
}

func TestRedisWrapper_OpensWhenServerDown(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	addr := s.Addr()
	s.Close()

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	wrapper := NewRedisWrapper(client, "report-store", zaptest.NewLogger(t))
	defer wrapper.Close()
	ctx := context.Background()

	threshold := int(ConfigFor(ServiceRedis).FailureThreshold)
	for i := 0; i < threshold; i++ {
		if err := wrapper.Ping(ctx); err == nil {
			t.Fatalf("Expected ping %d to fail", i)
		}
	}
	if !wrapper.IsCircuitBreakerOpen() {
		t.Error("Expected circuit breaker to open after repeated failures")
	}
	if err := wrapper.Ping(ctx); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Errorf("Expected open breaker error, got %v", err)
	}
}

func TestRedisWrapper_BreakerNamedPerService(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	archive := NewRedisWrapper(redis.NewClient(&redis.Options{Addr: s.Addr()}), "naming-archive", zaptest.NewLogger(t))
	defer archive.Close()
	cache := NewRedisWrapper(redis.NewClient(&redis.Options{Addr: s.Addr()}), "naming-cache", zaptest.NewLogger(t))
	defer cache.Close()

	if archive.cb.name == cache.cb.name {
		t.Errorf("Expected distinct breaker names, both are %q", archive.cb.name)
	}
	snap := GlobalMetricsCollector.Snapshot()
	for _, key := range []string{"naming-archive/redis-naming-archive", "naming-cache/redis-naming-cache"} {
		if _, ok := snap[key]; !ok {
			t.Errorf("Expected breaker %q to be registered, got %v", key, snap)
		}
	}
}
