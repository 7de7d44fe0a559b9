package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrVerifyRateLimited is returned once a subject exhausted its
	// failed-verification budget for the window.
	ErrVerifyRateLimited = errors.New("verification rate limited")
	// ErrVerifyUnavailable wraps Redis failures.
	ErrVerifyUnavailable = errors.New("verification limiter backend unavailable")
)

// VerifyLimiter bounds failed OTP verifications per subject inside a
// sliding window, in the shape of the engine's other Redis throttles.
type VerifyLimiter struct {
	redis       redis.UniversalClient
	prefix      string
	maxAttempts int64
	window      time.Duration
}

func NewVerifyLimiter(redisClient redis.UniversalClient, prefix string, maxAttempts int, window time.Duration) *VerifyLimiter {
	if prefix == "" {
		prefix = "sa"
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &VerifyLimiter{redis: redisClient, prefix: prefix, maxAttempts: int64(maxAttempts), window: window}
}

func (l *VerifyLimiter) key(userID string) string {
	return l.prefix + ":otpatt:" + userID
}

func (l *VerifyLimiter) Check(ctx context.Context, userID string) error {
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrVerifyRateLimited
	}
	return nil
}

func (l *VerifyLimiter) RecordFailure(ctx context.Context, userID string) error {
	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(userID), l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
		}
	}
	if count >= l.maxAttempts {
		return ErrVerifyRateLimited
	}
	return nil
}

func (l *VerifyLimiter) Reset(ctx context.Context, userID string) error {
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}
	return nil
}
