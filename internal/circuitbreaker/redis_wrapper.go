package circuitbreaker

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisWrapper wraps a Redis client with a circuit breaker.
type RedisWrapper struct {
	client  *redis.Client
	cb      *CircuitBreaker
	name    string
	service string
	logger  *zap.Logger
}

// NewRedisWrapper creates a Redis wrapper. The breaker is named
// "redis-<service>" in logs and metrics.
func NewRedisWrapper(client *redis.Client, service string, logger *zap.Logger) *RedisWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := "redis-" + service
	cb := NewCircuitBreaker(name, ConfigFor(ServiceRedis), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(name, service, cb)
	return &RedisWrapper{client: client, cb: cb, name: name, service: service, logger: logger}
}

// Do runs fn against the client through the breaker. redis.Nil is a normal
// miss and does not count as a failure; it is still returned to the caller.
func (rw *RedisWrapper) Do(ctx context.Context, fn func(redis.Cmdable) error) error {
	var miss bool
	err := rw.cb.Execute(ctx, func() error {
		err := fn(rw.client)
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		return err
	})
	GlobalMetricsCollector.RecordRequest(rw.name, rw.service, rw.cb.State(), err == nil)
	if err != nil {
		return err
	}
	if miss {
		return redis.Nil
	}
	return nil
}

// Ping checks connectivity through the breaker.
func (rw *RedisWrapper) Ping(ctx context.Context) error {
	return rw.Do(ctx, func(c redis.Cmdable) error {
		return c.Ping(ctx).Err()
	})
}

// TxPipelined runs fn in a MULTI/EXEC pipeline through the breaker.
func (rw *RedisWrapper) TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	return rw.Do(ctx, func(c redis.Cmdable) error {
		_, err := c.TxPipelined(ctx, fn)
		return err
	})
}

// IsCircuitBreakerOpen reports whether Redis calls are being rejected.
func (rw *RedisWrapper) IsCircuitBreakerOpen() bool {
	return rw.cb.IsOpen()
}

func (rw *RedisWrapper) Close() error {
	return rw.client.Close()
}
