package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope names a rate-limited operation. Limits are fixed per scope; the
// engine only consumes the allow/deny decision.
type Scope string

const (
	ScopeSignIn    Scope = "signin"
	ScopeSignUp    Scope = "signup"
	ScopeReset     Scope = "reset"
	ScopeMagicLink Scope = "magic"
	ScopeVerify    Scope = "verify"
)

type scopeLimit struct {
	max    int64
	window time.Duration
}

var scopeLimits = map[Scope]scopeLimit{
	ScopeSignIn:    {max: 10, window: 10 * time.Minute},
	ScopeSignUp:    {max: 10, window: 30 * time.Minute},
	ScopeReset:     {max: 5, window: 15 * time.Minute},
	ScopeMagicLink: {max: 5, window: 15 * time.Minute},
	ScopeVerify:    {max: 5, window: 10 * time.Minute},
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, scope Scope) (bool, time.Duration, error)
	Reset(ctx context.Context, key string, scope Scope)
}

// RedisRateLimiter counts attempts per (scope, key) in fixed windows. A
// redis outage fails open for availability; lockout still protects
// individual accounts.
type RedisRateLimiter struct {
	Redis *redis.Client
}

func (r *RedisRateLimiter) key(key string, scope Scope) string {
	return "ratelimit:" + string(scope) + ":" + strings.ToLower(key)
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, scope Scope) (bool, time.Duration, error) {
	limit, ok := scopeLimits[scope]
	if !ok {
		return true, 0, nil
	}

	k := r.key(key, scope)
	attempts, err := r.Redis.Incr(ctx, k).Result()
	if err != nil {
		return true, 0, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, k, limit.window)
	}
	if attempts > limit.max {
		ttl, _ := r.Redis.TTL(ctx, k).Result()
		return false, ttl, nil
	}
	return true, 0, nil
}

func (r *RedisRateLimiter) Reset(ctx context.Context, key string, scope Scope) {
	r.Redis.Del(ctx, r.key(key, scope))
}
