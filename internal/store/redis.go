package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// BalanceKeyPrefix is the key prefix for the previous-day balance.
// Format: engine:balance:{account}
const BalanceKeyPrefix = "engine:balance"

// RedisBalanceStore keeps the previous-day balance in Redis, shared between
// engine instances on the same account. When Redis is unavailable it falls
// back to an in-memory value so trading continues.
type RedisBalanceStore struct {
	client         *redis.Client
	account        string
	logger         zerolog.Logger
	cacheMu        sync.RWMutex
	cached         float64
	redisAvailable atomic.Bool
}

// NewRedisBalanceStore creates a store for account. A nil client means
// memory-only mode.
func NewRedisBalanceStore(client *redis.Client, account string, logger zerolog.Logger) *RedisBalanceStore {
	s := &RedisBalanceStore{
		client:  client,
		account: account,
		logger:  logger.With().Str("component", "RedisBalanceStore").Logger(),
	}

	if client == nil {
		s.logger.Warn().Msg("No Redis client provided, using in-memory balance only")
		return s
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Redis unavailable at startup, using in-memory balance")
		s.redisAvailable.Store(false)
	} else {
		s.logger.Info().Msg("Redis connected")
		s.redisAvailable.Store(true)
	}
	return s
}

func (s *RedisBalanceStore) key() string {
	return fmt.Sprintf("%s:%s", BalanceKeyPrefix, s.account)
}

// Available reports whether the last Redis call succeeded
func (s *RedisBalanceStore) Available() bool {
	return s.redisAvailable.Load()
}

// LoadBalance reads the balance, falling back to the cached value
func (s *RedisBalanceStore) LoadBalance(ctx context.Context) (float64, error) {
	if s.client != nil && s.redisAvailable.Load() {
		data, err := s.client.Get(ctx, s.key()).Result()
		switch {
		case errors.Is(err, redis.Nil):
			return s.getCached(), nil
		case err != nil:
			s.logger.Warn().Err(err).Msg("Redis read error, using in-memory balance")
			s.redisAvailable.Store(false)
			return s.getCached(), nil
		}

		v, err := strconv.ParseFloat(data, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse stored balance %q: %w", data, err)
		}
		s.setCached(v)
		return v, nil
	}
	return s.getCached(), nil
}

// SaveBalance stores the balance. Redis failures are logged, not returned:
// the in-memory value is already updated.
func (s *RedisBalanceStore) SaveBalance(ctx context.Context, balance float64) error {
	s.setCached(balance)

	if s.client == nil {
		return nil
	}
	if err := s.client.Set(ctx, s.key(), strconv.FormatFloat(balance, 'f', -1, 64), 0).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to save balance to Redis, kept in memory")
		s.redisAvailable.Store(false)
		return nil
	}
	s.redisAvailable.Store(true)
	s.logger.Debug().Float64("balance", balance).Msg("Saved previous-day balance")
	return nil
}

func (s *RedisBalanceStore) getCached() float64 {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cached
}

func (s *RedisBalanceStore) setCached(v float64) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cached = v
}
