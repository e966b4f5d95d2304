package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backends accepted by New.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// New returns the limiter for backend; anything but "memory" selects Redis.
// stop releases the limiter's background work.
func New(backend string, client redis.UniversalClient, prefix string) (l Limiter, stop func()) {
	if strings.EqualFold(strings.TrimSpace(backend), BackendMemory) {
		m := NewMemoryLimiter()
		return m, m.Stop
	}
	return NewRedisLimiter(client, prefix), func() {}
}

// Limiter is a fixed-window counter gate. CheckAndConsume counts the attempt
// whether or not it is allowed and reports whether the key is still within
// limit for the current window.
type Limiter interface {
	CheckAndConsume(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Rule is one threshold applied to a key.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// Verify key prefixes.
const (
	VerifyKeyPrefix       = "license-verify:"
	VerifyGlobalKeyPrefix = "license-verify-global:"
)

// VerifyRules returns the narrow (ip + identifier prefix) and broad (ip) rules
// for a verification request.
func VerifyRules(ip, identifier string, attempts, globalAttempts int, window time.Duration) []Rule {
	prefix := identifier
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	return []Rule{
		{Key: fmt.Sprintf("%s%s:%s", VerifyKeyPrefix, ip, prefix), Limit: attempts, Window: window},
		{Key: VerifyGlobalKeyPrefix + ip, Limit: globalAttempts, Window: window},
	}
}

// CheckAll consumes every rule and reports false when any rule is exhausted.
// Every rule is consumed even after one has failed so each counter sees the
// request exactly once.
func CheckAll(ctx context.Context, l Limiter, rules []Rule) (bool, error) {
	allowed := true
	for _, rule := range rules {
		if rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		ok, err := l.CheckAndConsume(ctx, rule.Key, rule.Limit, rule.Window)
		if err != nil {
			return false, fmt.Errorf("rate limit %s: %w", rule.Key, err)
		}
		if !ok {
			allowed = false
		}
	}
	return allowed, nil
}
