package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCooldownActive is returned while the resend window has not
	// elapsed for the subject.
	ErrCooldownActive = errors.New("resend cooldown active")
	// ErrCooldownUnavailable wraps Redis failures.
	ErrCooldownUnavailable = errors.New("resend cooldown backend unavailable")
)

// ResendLimiter enforces the minimum gap between OTP sends per subject.
// The client-side countdown is a courtesy; this limiter is the boundary
// that holds when the countdown is bypassed.
type ResendLimiter struct {
	redis    redis.UniversalClient
	prefix   string
	cooldown time.Duration
}

func NewResendLimiter(redisClient redis.UniversalClient, prefix string, cooldown time.Duration) *ResendLimiter {
	if prefix == "" {
		prefix = "sa"
	}
	return &ResendLimiter{redis: redisClient, prefix: prefix, cooldown: cooldown}
}

func (l *ResendLimiter) key(userID string) string {
	return l.prefix + ":otpcool:" + userID
}

// Check returns ErrCooldownActive with the remaining wait when a send for
// the subject happened within the cooldown window.
func (l *ResendLimiter) Check(ctx context.Context, userID string) error {
	remaining, err := l.Remaining(ctx, userID)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return fmt.Errorf("%w: %s remaining", ErrCooldownActive, remaining.Round(time.Second))
	}
	return nil
}

// Remaining reports how long until the subject may send again; zero when
// no cooldown is active.
func (l *ResendLimiter) Remaining(ctx context.Context, userID string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.key(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	if ttl <= 0 {
		return 0, nil
	}
	return ttl, nil
}

// Arm starts (or restarts) the cooldown window for the subject.
func (l *ResendLimiter) Arm(ctx context.Context, userID string) error {
	if err := l.redis.Set(ctx, l.key(userID), 1, l.cooldown).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	return nil
}

// Clear drops the cooldown, used when a send failed before dispatch.
func (l *ResendLimiter) Clear(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCooldownUnavailable, err)
	}
	return nil
}
