package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestResendLimiterBlocksUntilCooldownElapses(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewResendLimiter(rdb, "sa", 60*time.Second)
	ctx := context.Background()

	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("fresh subject should pass: %v", err)
	}
	if err := limiter.Arm(ctx, "u1"); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	if err := limiter.Check(ctx, "u1"); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected ErrCooldownActive, got %v", err)
	}

	// One second before the boundary the cooldown still holds.
	mr.FastForward(59 * time.Second)
	if err := limiter.Check(ctx, "u1"); !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("expected cooldown at 59s, got %v", err)
	}
	mr.FastForward(time.Second)
	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected cooldown cleared at 60s, got %v", err)
	}
}

func TestResendLimiterRemainingAndClear(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewResendLimiter(rdb, "sa", 60*time.Second)
	ctx := context.Background()

	if err := limiter.Arm(ctx, "u1"); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	remaining, err := limiter.Remaining(ctx, "u1")
	if err != nil {
		t.Fatalf("remaining failed: %v", err)
	}
	if remaining <= 0 || remaining > 60*time.Second {
		t.Fatalf("unexpected remaining %s", remaining)
	}

	if err := limiter.Clear(ctx, "u1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected pass after clear, got %v", err)
	}
}

func TestResendLimiterIsolatesSubjects(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewResendLimiter(rdb, "sa", 60*time.Second)
	ctx := context.Background()

	if err := limiter.Arm(ctx, "u1"); err != nil {
		t.Fatalf("arm failed: %v", err)
	}
	if err := limiter.Check(ctx, "u2"); err != nil {
		t.Fatalf("u2 must not inherit u1 cooldown: %v", err)
	}
}

func TestVerifyLimiterBudget(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewVerifyLimiter(rdb, "sa", 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := limiter.RecordFailure(ctx, "u1"); err != nil {
			t.Fatalf("failure %d should stay under budget: %v", i+1, err)
		}
		if err := limiter.Check(ctx, "u1"); err != nil {
			t.Fatalf("check after failure %d: %v", i+1, err)
		}
	}
	if err := limiter.RecordFailure(ctx, "u1"); !errors.Is(err, ErrVerifyRateLimited) {
		t.Fatalf("third failure should exhaust budget, got %v", err)
	}
	if err := limiter.Check(ctx, "u1"); !errors.Is(err, ErrVerifyRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
}

func TestVerifyLimiterWindowExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewVerifyLimiter(rdb, "sa", 2, time.Minute)
	ctx := context.Background()

	limiter.RecordFailure(ctx, "u1")
	if err := limiter.RecordFailure(ctx, "u1"); !errors.Is(err, ErrVerifyRateLimited) {
		t.Fatalf("expected exhausted budget, got %v", err)
	}

	mr.FastForward(time.Minute)
	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("budget should reset after window, got %v", err)
	}
}

func TestVerifyLimiterReset(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewVerifyLimiter(rdb, "sa", 2, time.Minute)
	ctx := context.Background()

	limiter.RecordFailure(ctx, "u1")
	limiter.RecordFailure(ctx, "u1")
	if err := limiter.Reset(ctx, "u1"); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err := limiter.Check(ctx, "u1"); err != nil {
		t.Fatalf("expected clean budget after reset, got %v", err)
	}
}

func TestLimitersSurfaceBackendFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	resend := NewResendLimiter(rdb, "sa", time.Minute)
	verify := NewVerifyLimiter(rdb, "sa", 3, time.Minute)
	mr.Close()

	ctx := context.Background()
	if err := resend.Check(ctx, "u1"); !errors.Is(err, ErrCooldownUnavailable) {
		t.Fatalf("expected ErrCooldownUnavailable, got %v", err)
	}
	if err := verify.Check(ctx, "u1"); !errors.Is(err, ErrVerifyUnavailable) {
		t.Fatalf("expected ErrVerifyUnavailable, got %v", err)
	}
}
