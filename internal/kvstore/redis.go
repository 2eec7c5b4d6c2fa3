package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const defaultKeyPrefix = "ledger:"

// Redis is a Store shared across processes. Atomicity comes from single
// Redis commands (SET NX PX for TryInsert); expiry is enforced by Redis itself.
// Failures are reported as *domain.ExternalError.
type Redis[V any] struct {
	rdb    redis.UniversalClient
	prefix string
	cb     *gobreaker.CircuitBreaker
}

var _ Store[int] = (*Redis[int])(nil)

type redisConfig struct {
	prefix string
	logger *zap.Logger
	cb     *gobreaker.CircuitBreaker
}

type RedisOption func(*redisConfig)

// WithKeyPrefix namespaces every key; the default is "ledger:".
func WithKeyPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithLogger sets the logger used for breaker state changes.
func WithLogger(logger *zap.Logger) RedisOption {
	return func(c *redisConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(cb *gobreaker.CircuitBreaker) RedisOption {
	return func(c *redisConfig) {
		c.cb = cb
	}
}

func NewRedis[V any](rdb redis.UniversalClient, opts ...RedisOption) *Redis[V] {
	cfg := redisConfig{prefix: defaultKeyPrefix, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.cb == nil {
		cfg.cb = NewBreaker("ledger-redis", cfg.logger)
	}
	return &Redis[V]{rdb: rdb, prefix: cfg.prefix, cb: cfg.cb}
}

// NewBreaker trips after five requests with a failure ratio of at least 60%.
func NewBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (s *Redis[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	raw, err := execute(s.cb, func() ([]byte, error) {
		b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		return zero, false, domain.External("ledger get", err)
	}
	if raw == nil {
		return zero, false, nil
	}
	var value V
	if err := json.Unmarshal(raw, &value); err != nil {
		return zero, false, domain.External("ledger get", fmt.Errorf("decode %s: %w", key, err))
	}
	return value, true, nil
}

func (s *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = execute(s.cb, func() (struct{}, error) {
		return struct{}{}, s.rdb.Set(ctx, s.key(key), raw, normalizeTTL(ttl)).Err()
	})
	return domain.External("ledger set", err)
}

func (s *Redis[V]) TryInsert(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode %s: %w", key, err)
	}
	ok, err := execute(s.cb, func() (bool, error) {
		return s.rdb.SetNX(ctx, s.key(key), raw, normalizeTTL(ttl)).Result()
	})
	if err != nil {
		return false, domain.External("ledger try insert", err)
	}
	return ok, nil
}

func (s *Redis[V]) Delete(ctx context.Context, key string) (bool, error) {
	n, err := execute(s.cb, func() (int64, error) {
		return s.rdb.Del(ctx, s.key(key)).Result()
	})
	if err != nil {
		return false, domain.External("ledger delete", err)
	}
	return n > 0, nil
}

func (s *Redis[V]) Has(ctx context.Context, key string) (bool, error) {
	n, err := execute(s.cb, func() (int64, error) {
		return s.rdb.Exists(ctx, s.key(key)).Result()
	})
	if err != nil {
		return false, domain.External("ledger has", err)
	}
	return n > 0, nil
}

func (s *Redis[V]) key(k string) string {
	return s.prefix + k
}

// normalizeTTL maps "no expiry" onto go-redis's zero expiration.
func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}
