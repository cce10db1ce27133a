// Package stores holds the Redis-backed single-use guards: challenge
// consumption markers, per-challenge attempt counters, and TOTP step
// replay markers. All state here is small, TTL-bounded, and safe to lose
// on Redis restart — losing it only forces a fresh login.
package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrGuardBackend wraps Redis failures.
var ErrGuardBackend = errors.New("guard backend unavailable")

// ChallengeGuard enforces single-use consumption and the attempt budget of
// MFA challenge tokens, keyed by jti.
type ChallengeGuard struct {
	redis  redis.UniversalClient
	prefix string
}

// NewChallengeGuard creates a guard under the given key prefix.
func NewChallengeGuard(redisClient redis.UniversalClient, prefix string) *ChallengeGuard {
	if prefix == "" {
		prefix = "tg"
	}
	return &ChallengeGuard{redis: redisClient, prefix: prefix}
}

// Consume marks the challenge as used. Returns false when the challenge was
// already consumed: exactly one of N concurrent callers sees true.
func (g *ChallengeGuard) Consume(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	ok, err := g.redis.SetNX(ctx, g.prefix+":mfa:used:"+jti, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuardBackend, err)
	}
	return ok, nil
}

// Consumed reports whether the challenge was already redeemed, without
// touching it.
func (g *ChallengeGuard) Consumed(ctx context.Context, jti string) (bool, error) {
	n, err := g.redis.Exists(ctx, g.prefix+":mfa:used:"+jti).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuardBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts one failed verification for the challenge and
// reports whether the budget is now exceeded.
func (g *ChallengeGuard) RecordFailure(ctx context.Context, jti string, maxAttempts int, ttl time.Duration) (bool, error) {
	key := g.prefix + ":mfa:fail:" + jti
	pipe := g.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuardBackend, err)
	}
	return incr.Val() >= int64(maxAttempts), nil
}

// Exceeded reports whether the challenge's budget is already spent, without
// consuming anything.
func (g *ChallengeGuard) Exceeded(ctx context.Context, jti string, maxAttempts int) (bool, error) {
	count, err := g.redis.Get(ctx, g.prefix+":mfa:fail:"+jti).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrGuardBackend, err)
	}
	return count >= int64(maxAttempts), nil
}

// ReplayGuard remembers accepted TOTP steps per user so a code cannot be
// accepted twice inside its validity window.
type ReplayGuard struct {
	redis  redis.UniversalClient
	prefix string
}

// NewReplayGuard creates a guard under the given key prefix.
func NewReplayGuard(redisClient redis.UniversalClient, prefix string) *ReplayGuard {
	if prefix == "" {
		prefix = "tg"
	}
	return &ReplayGuard{redis: redisClient, prefix: prefix}
}

// MarkStep records acceptance of the user+step pair. Returns false when the
// pair was already recorded, meaning the code is a replay.
func (g *ReplayGuard) MarkStep(ctx context.Context, userID string, step int64, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:totp:step:%s:%d", g.prefix, userID, step)
	ok, err := g.redis.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrGuardBackend, err)
	}
	return ok, nil
}
