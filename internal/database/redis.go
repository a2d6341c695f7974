package database

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// ErrRedisDegraded is returned by the Safe* helpers while Redis is unhealthy
var ErrRedisDegraded = errors.New("redis is in degraded mode")

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// RedisClient wraps the Redis client with degraded mode support. Callers that
// have an in-process fallback check IsDegraded before touching the network.
type RedisClient struct {
	Client         redis.UniversalClient
	degradedMode   bool
	degradedModeMu sync.RWMutex
	healthCheckMu  sync.Mutex
}

// NewRedisDB creates a new Redis client from config with degraded mode support
func NewRedisDB(cfg *RedisConfig) *RedisClient {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		DialTimeout:  cfg.Timeout,
	})

	return NewRedisClient(client)
}

// NewRedisClient wraps an existing client
func NewRedisClient(client redis.UniversalClient) *RedisClient {
	return &RedisClient{Client: client}
}

// Close closes the Redis client connection
func (r *RedisClient) Close() error {
	return r.Client.Close()
}

// StartHealthCheck starts a background goroutine that periodically checks Redis health
func (r *RedisClient) StartHealthCheck(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.HealthCheck(ctx); err != nil {
					logger.Warn("Redis health check failed", zap.Error(err))
				}
			}
		}
	}()
}

// IsDegraded returns true if Redis is in degraded mode
func (r *RedisClient) IsDegraded() bool {
	r.degradedModeMu.RLock()
	defer r.degradedModeMu.RUnlock()
	return r.degradedMode
}

// SetDegraded forces the degraded state; the health check loop clears it
// again once Redis answers a ping.
func (r *RedisClient) SetDegraded(degraded bool) {
	r.degradedModeMu.Lock()
	defer r.degradedModeMu.Unlock()

	if r.degradedMode == degraded {
		return
	}
	r.degradedMode = degraded
	if degraded {
		metrics.RedisDegradedMode.Set(1)
		logger.Warn("Redis entered degraded mode")
	} else {
		metrics.RedisDegradedMode.Set(0)
		logger.Info("Redis left degraded mode")
	}
}

// HealthCheck performs a health check on Redis and updates degraded mode.
// A mutex keeps concurrent checks from piling onto Redis.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	r.healthCheckMu.Lock()
	defer r.healthCheckMu.Unlock()

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	metrics.RedisHealthCheckTotal.Inc()
	if err := r.Client.Ping(healthCtx).Err(); err != nil {
		r.SetDegraded(true)
		return fmt.Errorf("redis health check failed: %w", err)
	}

	r.SetDegraded(false)
	return nil
}

// SafeSet performs a SET operation with degraded mode handling
func (r *RedisClient) SafeSet(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if r.IsDegraded() {
		return ErrRedisDegraded
	}
	return r.Client.Set(ctx, key, value, expiration).Err()
}

// SafeDel performs a DEL operation with degraded mode handling
func (r *RedisClient) SafeDel(ctx context.Context, keys ...string) error {
	if r.IsDegraded() {
		return ErrRedisDegraded
	}
	return r.Client.Del(ctx, keys...).Err()
}

// SafeExpire performs an EXPIRE operation with degraded mode handling
func (r *RedisClient) SafeExpire(ctx context.Context, key string, expiration time.Duration) error {
	if r.IsDegraded() {
		return ErrRedisDegraded
	}
	return r.Client.Expire(ctx, key, expiration).Err()
}

// SafeSAdd performs a SADD operation with degraded mode handling
func (r *RedisClient) SafeSAdd(ctx context.Context, key string, members ...interface{}) error {
	if r.IsDegraded() {
		return ErrRedisDegraded
	}
	return r.Client.SAdd(ctx, key, members...).Err()
}

// SafeSRem performs a SREM operation with degraded mode handling
func (r *RedisClient) SafeSRem(ctx context.Context, key string, members ...interface{}) error {
	if r.IsDegraded() {
		return ErrRedisDegraded
	}
	return r.Client.SRem(ctx, key, members...).Err()
}

// SafeExists performs an EXISTS operation with degraded mode handling
func (r *RedisClient) SafeExists(ctx context.Context, keys ...string) (int64, error) {
	if r.IsDegraded() {
		return 0, ErrRedisDegraded
	}
	return r.Client.Exists(ctx, keys...).Result()
}
