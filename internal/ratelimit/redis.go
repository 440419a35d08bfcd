package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a sliding-window counter stored in Redis sorted sets.
type RedisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client *redis.Client) *RedisLimiter {
	return &RedisLimiter{client: client, now: time.Now}
}

// Allow records one request for key and reports whether it fits in the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, rule Rule) (Decision, error) {
	now := l.now()
	windowStart := now.Add(-rule.Window)

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMicro()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, rule.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, err
	}

	count := int(countCmd.Val())
	remaining := rule.Requests - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count < rule.Requests,
		Remaining: remaining,
		ResetAt:   now.Add(rule.Window),
	}, nil
}

// IPBlocker manages temporary IP blocks for repeat offenders.
type IPBlocker struct {
	client    *redis.Client
	threshold int64
	duration  time.Duration
}

// NewIPBlocker blocks an IP for duration once it has threshold violations within an hour.
func NewIPBlocker(client *redis.Client, threshold int64, duration time.Duration) *IPBlocker {
	return &IPBlocker{client: client, threshold: threshold, duration: duration}
}

func blockedKey(ip string) string { return "blocked:ip:" + ip }

// IsBlocked checks if an IP is blocked.
func (b *IPBlocker) IsBlocked(ctx context.Context, ip string) bool {
	exists, _ := b.client.Exists(ctx, blockedKey(ip)).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (b *IPBlocker) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	b.client.Set(ctx, blockedKey(ip), reason, duration)
}

// RecordViolation counts a rate limit violation and blocks the IP once the
// threshold is reached. It reports whether the IP is now blocked.
func (b *IPBlocker) RecordViolation(ctx context.Context, ip string) (int64, bool) {
	key := "violations:ip:" + ip
	count, err := b.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, false
	}
	b.client.Expire(ctx, key, time.Hour)

	if count < b.threshold {
		return count, false
	}
	b.Block(ctx, ip, b.duration, "repeated rate limit violations")
	return count, true
}
