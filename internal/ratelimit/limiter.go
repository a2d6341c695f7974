// Package ratelimit implements fixed-window limits keyed by actor and action.
// Counters live in Redis when a store is configured and fall back to an
// in-process table whenever the store is unavailable.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	apperrors "pulse-backend/pkg/errors"
	"pulse-backend/pkg/logger"
	"pulse-backend/pkg/metrics"
)

// Actions limited by the gateway
const (
	ActionMessage = "message"
	ActionREST    = "rest"
)

// Store is a shared counter backend
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Rule is the allowance for one action
type Rule struct {
	Limit  int
	Window time.Duration
}

// Config holds limiter settings
type Config struct {
	Rules      map[string]Rule
	Default    Rule
	MaxBuckets int
}

// Decision is the outcome of a single check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

// Limiter enforces fixed-window rate limits
type Limiter struct {
	cfg   Config
	store Store
	clock clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

// ActorKey is the single key derivation shared by the REST middleware and the
// realtime path, so one user's budget for an action is the same everywhere
func ActorKey(action, username string) string {
	return action + ":user:" + username
}

// New creates a Limiter. store may be nil for in-process only.
func New(cfg Config, store Store, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = 10000
	}
	return &Limiter{
		cfg:     cfg,
		store:   store,
		clock:   clk,
		buckets: make(map[string]*bucket),
	}
}

func (l *Limiter) rule(action string) Rule {
	if r, ok := l.cfg.Rules[action]; ok {
		return r
	}
	return l.cfg.Default
}

// Allow counts one hit for actor on action
func (l *Limiter) Allow(ctx context.Context, action, actor string) Decision {
	rule := l.rule(action)
	key := ActorKey(action, actor)

	var d Decision
	if l.store != nil {
		count, ttl, err := l.store.Increment(ctx, key, rule.Window)
		if err == nil {
			d = decide(rule, int(count), l.clock.Now().Add(ttl))
			l.record(action, d)
			return d
		}
		metrics.RateLimitFallbackTotal.Inc()
		logger.Warn("Rate limit store unavailable, using in-process counter",
			zap.String("key", key),
			zap.Error(err))
	}

	d = l.allowLocal(key, rule)
	l.record(action, d)
	return d
}

// Check is Allow expressed as an error for callers that only need a verdict
func (l *Limiter) Check(ctx context.Context, action, actor string) error {
	if d := l.Allow(ctx, action, actor); !d.Allowed {
		return apperrors.RateLimitExceededError().WithDetails(map[string]interface{}{
			"limit":    d.Limit,
			"reset_at": d.ResetAt.Unix(),
		})
	}
	return nil
}

func (l *Limiter) allowLocal(key string, rule Rule) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.cfg.MaxBuckets {
			l.pruneLocked(now)
		}
		b = &bucket{resetAt: now.Add(rule.Window)}
		l.buckets[key] = b
	} else if !now.Before(b.resetAt) {
		b.count = 0
		b.resetAt = now.Add(rule.Window)
	}

	b.count++
	metrics.RateLimitBuckets.Set(float64(len(l.buckets)))
	return decide(rule, b.count, b.resetAt)
}

// pruneLocked drops expired buckets, then evicts the ones closest to reset
// until there is room for one more
func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if !now.Before(b.resetAt) {
			delete(l.buckets, key)
		}
	}

	excess := len(l.buckets) - l.cfg.MaxBuckets + 1
	if excess <= 0 {
		return
	}

	keys := make([]string, 0, len(l.buckets))
	for key := range l.buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return l.buckets[keys[i]].resetAt.Before(l.buckets[keys[j]].resetAt)
	})
	for _, key := range keys[:excess] {
		delete(l.buckets, key)
	}
}

// Len returns the number of in-process buckets
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) record(action string, d Decision) {
	decision := "allowed"
	if !d.Allowed {
		decision = "blocked"
	}
	metrics.RateLimitDecisionsTotal.WithLabelValues(action, decision).Inc()
}

func decide(rule Rule, count int, resetAt time.Time) Decision {
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
