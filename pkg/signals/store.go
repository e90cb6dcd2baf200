// Package signals is the shared TTL key/value store holding per-conversation
// detection counters and per-merchant rate markers.
package signals

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"handoff-escalation-service/pkg/metrics"
)

// Store is the contract the detector and dispatcher rely on. Incr must be a
// single atomic increment that also refreshes the key's TTL.
type Store interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

type RedisStore struct {
	rdb     *redis.Client
	logger  *logrus.Logger
	metrics *metrics.Metrics
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client, logger *logrus.Logger, metrics *metrics.Metrics) *RedisStore {
	return &RedisStore{
		rdb:     rdb,
		logger:  logger,
		metrics: metrics,
	}
}

func (s *RedisStore) observe(operation string, start time.Time) {
	s.metrics.SignalOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// Incr increments key and refreshes its TTL inside one MULTI/EXEC
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	defer s.observe("incr", time.Now())

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}

	return incr.Val(), nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	defer s.observe("get", time.Now())

	value, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	defer s.observe("set", time.Now())

	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	defer s.observe("setnx", time.Now())

	result := s.rdb.SetArgs(ctx, key, value, redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	})

	if err := result.Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim %s: %w", key, err)
	}

	return result.Val() == "OK", nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	defer s.observe("exists", time.Now())

	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	defer s.observe("delete", time.Now())

	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		s.logger.WithError(err).WithField("keys", keys).Error("Failed to delete signal keys")
		return fmt.Errorf("failed to delete signal keys: %w", err)
	}
	return nil
}
