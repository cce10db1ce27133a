// Package rate enforces sliding-window attempt budgets in Redis. It is the
// identifier-level defense layered in front of the per-user lockout: raw
// identifier strings are throttled even when they resolve to no account.
package rate

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited means the window budget is spent.
var ErrRateLimited = errors.New("rate limited")

// ErrRedisUnavailable wraps backend failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Config holds limiter tuning parameters.
type Config struct {
	Prefix           string
	Window           time.Duration
	MaxAttempts      int
	EnableIPThrottle bool

	ApprovalWindow      time.Duration
	MaxApprovalRequests int
}

// Limiter tracks failed-attempt counters per identifier and per IP, plus
// the approval-request flood budget per child.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "tg"
	}
	return &Limiter{redis: redisClient, config: cfg}
}

// CheckLogin reports whether the identifier+IP pair is still within its
// attempt budget. It does not consume budget.
func (l *Limiter) CheckLogin(ctx context.Context, identifier, ip string) error {
	if err := l.checkCounter(ctx, l.identifierKey(identifier), l.config.MaxAttempts); err != nil {
		return err
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.checkCounter(ctx, l.ipKey(ip), l.config.MaxAttempts); err != nil {
			return err
		}
	}
	return nil
}

// RecordFailure consumes budget for a failed attempt. Returns
// [ErrRateLimited] once the post-increment count crosses the budget.
func (l *Limiter) RecordFailure(ctx context.Context, identifier, ip string) error {
	count, err := l.incrementWithTTL(ctx, l.identifierKey(identifier), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, l.ipKey(ip), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Reset clears counters after a successful login.
func (l *Limiter) Reset(ctx context.Context, identifier, ip string) error {
	keys := []string{l.identifierKey(identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, l.ipKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// AllowApprovalRequest consumes one slot of the child's approval-request
// flood budget.
func (l *Limiter) AllowApprovalRequest(ctx context.Context, childID string) error {
	count, err := l.incrementWithTTL(ctx, l.approvalKey(childID), l.config.ApprovalWindow)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxApprovalRequests) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) checkCounter(ctx context.Context, key string, maxAttempts int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(maxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// incrementWithTTL is increment-and-read: the counter moves first, then the
// value is inspected, so concurrent failures cannot undercount.
func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := l.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return incr.Val(), nil
}

func (l *Limiter) identifierKey(identifier string) string {
	return l.config.Prefix + ":lim:id:" + hashKey(identifier)
}

func (l *Limiter) ipKey(ip string) string {
	return l.config.Prefix + ":lim:ip:" + hashKey(ip)
}

func (l *Limiter) approvalKey(childID string) string {
	return l.config.Prefix + ":lim:apr:" + childID
}

// hashKey keeps raw identifiers and IPs out of Redis keys.
func hashKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return base64.RawURLEncoding.EncodeToString(sum[:16])
}
