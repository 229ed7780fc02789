package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/battery-analyst/internal/circuitbreaker"
	"github.com/Kocoro-lab/battery-analyst/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "analyst:report:"

// RedisStore keeps each record as a JSON string with an optional TTL and
// indexes run IDs in a sorted set scored by completion time.
type RedisStore struct {
	rw     *circuitbreaker.RedisWrapper
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisStore(rw *circuitbreaker.RedisWrapper, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{rw: rw, prefix: prefix, ttl: ttl, logger: logger}
}

func (s *RedisStore) key(runID string) string { return s.prefix + runID }

func (s *RedisStore) indexKey() string { return s.prefix + "index" }

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	err = s.rw.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(rec.RunID), payload, s.ttl)
		p.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(rec.CompletedAt.UnixMilli()), Member: rec.RunID})
		return nil
	})
	metrics.RecordStore("redis", err)
	if err != nil {
		return fmt.Errorf("save %s: %w", rec.RunID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (Record, error) {
	var payload []byte
	err := s.rw.Do(ctx, func(c redis.Cmdable) error {
		var err error
		payload, err = c.Get(ctx, s.key(runID)).Bytes()
		return err
	})
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s: %w", runID, err)
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", runID, err)
	}
	return rec, nil
}

// List drops index entries whose records have expired.
func (s *RedisStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		return []Summary{}, nil
	}

	var ids []string
	if err := s.rw.Do(ctx, func(c redis.Cmdable) error {
		var err error
		ids, err = c.ZRevRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
		return err
	}); err != nil {
		return nil, fmt.Errorf("list index: %w", err)
	}
	if len(ids) == 0 {
		return []Summary{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	var values []any
	if err := s.rw.Do(ctx, func(c redis.Cmdable) error {
		var err error
		values, err = c.MGet(ctx, keys...).Result()
		return err
	}); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	out := make([]Summary, 0, len(ids))
	var stale []any
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.Warn("Skipping undecodable record", zap.String("run_id", ids[i]), zap.Error(err))
			continue
		}
		out = append(out, rec.Summary())
	}

	if len(stale) > 0 {
		if err := s.rw.Do(ctx, func(c redis.Cmdable) error {
			return c.ZRem(ctx, s.indexKey(), stale...).Err()
		}); err != nil {
			s.logger.Debug("Failed to prune report index", zap.Error(err))
		}
	}
	return out, nil
}

func (s *RedisStore) Close() error {
	return s.rw.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rw.Ping(ctx)
}

// BreakerOpen reports whether store calls are currently short-circuited.
func (s *RedisStore) BreakerOpen() bool {
	return s.rw.IsCircuitBreakerOpen()
}
