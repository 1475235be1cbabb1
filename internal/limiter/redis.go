package limiter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Redis-backed limiter shared by every server replica.
// Failures live in a counter that expires with the window; a block is a key with a TTL.
type Redis struct {
	rdb    redis.Cmdable
	keyNS  string
	policy Policy
}

var _ Limiter = (*Redis)(nil)

// NewRedis constructs a Redis-backed limiter. An empty prefix defaults to "gl:limiter:".
func NewRedis(rdb redis.Cmdable, keyPrefix string, p Policy) *Redis {
	if keyPrefix == "" {
		keyPrefix = "gl:limiter:"
	}
	return &Redis{rdb: rdb, keyNS: keyPrefix, policy: p}
}

func (l *Redis) keys(subject string, ipHash []byte) (fails, blocked string) {
	base := l.keyNS + subject + ":" + hex.EncodeToString(ipHash)
	return base + ":fails", base + ":blocked"
}

// Allow reports whether an attempt is currently allowed and a retry-after duration.
func (l *Redis) Allow(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	_, blocked := l.keys(subject, ipHash)
	ttl, err := l.rdb.PTTL(ctx, blocked).Result()
	if err != nil {
		return false, 0, err
	}
	// -2: no key, -1: key without expiry (never written by us).
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// Success resets counters for (subject, ip).
func (l *Redis) Success(ctx context.Context, subject string, ipHash []byte) error {
	fails, blocked := l.keys(subject, ipHash)
	return l.rdb.Del(ctx, fails, blocked).Err()
}

// Failure records a failed attempt; may place a block. The counter and its
// expiry are written in one MULTI so a counter never outlives the window.
func (l *Redis) Failure(ctx context.Context, subject string, ipHash []byte) (bool, time.Duration, error) {
	fails, blocked := l.keys(subject, ipHash)
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, fails)
		p.ExpireNX(ctx, fails, l.policy.Window)
		return nil
	})
	if err != nil {
		return false, 0, err
	}
	if incr.Val() < int64(l.policy.MaxFails) {
		return false, 0, nil
	}
	if err := l.rdb.Set(ctx, blocked, 1, l.policy.BlockFor).Err(); err != nil {
		return false, 0, err
	}
	return true, l.policy.BlockFor, nil
}
