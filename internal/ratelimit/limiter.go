// Package ratelimit provides Redis-backed rate limiting using INCR + EXPIRE
// fixed windows. The engine uses it to throttle how often a single trip can
// trigger overlap detection.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cragmate/partner-engine/internal/logger"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "rl:detect:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleTripDetect allows 3 detection runs per minute per trip.
	RuleTripDetect = Rule{Key: "rl:detect:", Limit: 3, Window: time.Minute}

	// RuleMatchRequest allows 30 match list requests per minute per user.
	RuleMatchRequest = Rule{Key: "rl:match:", Limit: 30, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *logger.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, log *logger.Logger) *Limiter {
	return &Limiter{client: client, log: log.With("component", "ratelimit")}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors it fails open (returns true) and also returns the error.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("redis INCR failed, failing open", "key", key, "error", err)
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("redis EXPIRE failed, failing open", "key", key, "error", err)
			// A key without TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}
