// Package ratelimit provides per-identity rate limiting using the INCR + EXPIRE
// fixed window algorithm, with an in-process fallback for single-node runs.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adlib/coffee-chat/pkg/logger"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:join:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleJoin allows 10 join requests per minute per user by default.
var RuleJoin = Rule{Key: "rl:join:", Limit: 10, Window: 1 * time.Minute}

// Allower is implemented by both limiters.
type Allower interface {
	Allow(ctx context.Context, identifier string, rule Rule) (bool, error)
	Remaining(ctx context.Context, identifier string, rule Rule) (int, error)
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    logger.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, log logger.Logger) *Limiter {
	return &Limiter{client: client, log: log}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn(ctx, "rate limit INCR failed, failing open", logger.String("key", key), logger.Error(err))
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn(ctx, "rate limit EXPIRE failed, failing open", logger.String("key", key), logger.Error(err))
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= rule.Limit, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn(ctx, "rate limit GET failed, failing open", logger.String("key", key), logger.Error(err))
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// pruneInterval is how often the memory limiter drops lapsed windows.
const pruneInterval = time.Minute

type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a process-local fixed window limiter.
type MemoryLimiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	nextPrune time.Time
	now       func() time.Time
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]*window), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.prune(now)
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		l.windows[key] = w
	}
	w.count++
	return w.count <= rule.Limit, nil
}

func (l *MemoryLimiter) Remaining(_ context.Context, identifier string, rule Rule) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[rule.Key+identifier]
	if !ok || !l.now().Before(w.resetAt) {
		return rule.Limit, nil
	}
	return max(rule.Limit-w.count, 0), nil
}

// prune forgets windows that have lapsed. Caller holds l.mu.
func (l *MemoryLimiter) prune(now time.Time) {
	if now.Before(l.nextPrune) {
		return
	}
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
		}
	}
	l.nextPrune = now.Add(pruneInterval)
}
