// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. Every analysis surface (HTTP, WebSocket) throttles
// per client IP through it.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Rule is a fixed-window policy. A Limit of 0 disables it.
type Rule struct {
	Key    string // Redis key prefix, e.g. "rl:analyze:"
	Limit  int
	Window time.Duration
}

var (
	// RuleAnalyze allows 30 analyses per minute per client.
	RuleAnalyze = Rule{Key: "rl:analyze:", Limit: 30, Window: time.Minute}

	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: time.Minute}
)

// WithLimit returns a copy of r with a different limit and window.
func (r Rule) WithLimit(limit int, window time.Duration) Rule {
	r.Limit, r.Window = limit, window
	return r
}

// Limiter counts requests per identifier in Redis. Every method fails open.
type Limiter struct {
	client redis.Cmdable
	log    *logrus.Entry
}

func NewLimiter(client redis.Cmdable, logger logrus.FieldLogger) *Limiter {
	return &Limiter{client: client, log: logger.WithField("component", "ratelimit")}
}

// Allow counts one request for identifier and reports whether it is within
// rule. The first request of a window starts the window's TTL. A Redis error
// is returned alongside true.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("redis INCR failed, failing open")
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.WithError(err).WithField("key", key).Warn("redis EXPIRE failed, failing open")
			// A counter without a TTL would never reset.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining is how many requests identifier has left in the current window.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.WithError(err).WithField("key", key).Warn("redis GET failed, failing open")
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}

// RetryAfter returns how long until the identifier's window resets. It returns
// the full window when the key has no TTL or Redis cannot be reached.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) time.Duration {
	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return rule.Window
	}
	return ttl
}
