package retry_test

import (
	"context"
	"testing"
	"time"

	"github.com/resilient-run/retry"
)

func runBackoff(t *testing.T, b retry.BackoffPolicy, n int) []time.Duration {
	t.Helper()
	sleeper := retry.NewRecordingSleeper()
	bctx := b.Start(nil)
	for i := 0; i < n; i++ {
		if err := b.BackOff(context.Background(), bctx, sleeper); err != nil {
			t.Fatalf("BackOff: %v", err)
		}
	}
	return sleeper.Sleeps()
}

func TestNoopBackoffPolicy(t *testing.T) {
	sleeps := runBackoff(t, retry.NoopBackoffPolicy{}, 3)
	for _, d := range sleeps {
		if d != 0 {
			t.Fatalf("expected no-op sleeps, got %v", d)
		}
	}
}

func TestFixedBackoffPolicy(t *testing.T) {
	b := retry.NewFixedBackoffPolicy(100 * time.Millisecond)
	sleeps := runBackoff(t, b, 3)
	for _, d := range sleeps {
		if d != 100*time.Millisecond {
			t.Fatalf("expected 100ms, got %v", d)
		}
	}
}

func TestFixedBackoffPolicy_clampsFloor(t *testing.T) {
	b := retry.NewFixedBackoffPolicy(0)
	sleeps := runBackoff(t, b, 1)
	if sleeps[0] != time.Millisecond {
		t.Fatalf("expected 1ms floor, got %v", sleeps[0])
	}
}

func TestUniformRandomBackoffPolicy(t *testing.T) {
	b := retry.NewUniformRandomBackoffPolicy(100*time.Millisecond, 200*time.Millisecond)
	sleeps := runBackoff(t, b, 50)
	for _, d := range sleeps {
		if d < 100*time.Millisecond || d > 200*time.Millisecond {
			t.Fatalf("delay %v outside [100ms, 200ms]", d)
		}
	}
}

func TestUniformRandomBackoffPolicy_degenerate(t *testing.T) {
	b := retry.NewUniformRandomBackoffPolicy(150*time.Millisecond, 100*time.Millisecond)
	sleeps := runBackoff(t, b, 5)
	for _, d := range sleeps {
		if d != 150*time.Millisecond {
			t.Fatalf("expected 150ms when max < min, got %v", d)
		}
	}
}

func TestExponentialBackoffPolicy(t *testing.T) {
	b := retry.NewExponentialBackoffPolicy(100*time.Millisecond, 2.0, 30*time.Second)
	sleeps := runBackoff(t, b, 4)
	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	for i, d := range sleeps {
		if d != expected[i] {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected[i], d)
		}
	}
}

func TestExponentialBackoffPolicy_cap(t *testing.T) {
	b := retry.NewExponentialBackoffPolicy(100*time.Millisecond, 2.0, 500*time.Millisecond)
	sleeps := runBackoff(t, b, 5)
	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 500 * time.Millisecond, 500 * time.Millisecond}
	for i, d := range sleeps {
		if d != expected[i] {
			t.Fatalf("attempt %d: expected %v, got %v", i+1, expected[i], d)
		}
	}
}

func TestExponentialBackoffPolicy_degenerateMultiplier(t *testing.T) {
	b := retry.NewExponentialBackoffPolicy(50*time.Millisecond, 1.0, time.Second)
	sleeps := runBackoff(t, b, 3)
	for _, d := range sleeps {
		if d != 50*time.Millisecond {
			t.Fatalf("expected fixed-interval behavior with multiplier<=1, got %v", d)
		}
	}
}

func TestDefaultExponentialBackoffPolicy(t *testing.T) {
	b := retry.DefaultExponentialBackoffPolicy()
	sleeps := runBackoff(t, b, 1)
	if sleeps[0] != retry.DefaultInitialInterval {
		t.Fatalf("expected %v, got %v", retry.DefaultInitialInterval, sleeps[0])
	}
}

func TestExponentialRandomBackoffPolicy_withinRange(t *testing.T) {
	b := retry.NewExponentialRandomBackoffPolicy(100*time.Millisecond, 2.0, 30*time.Second)
	sleeper := retry.NewRecordingSleeper()
	bctx := b.Start(nil)
	for i := 0; i < 20; i++ {
		if err := b.BackOff(context.Background(), bctx, sleeper); err != nil {
			t.Fatalf("BackOff: %v", err)
		}
	}
	sleeps := sleeper.Sleeps()
	// attempt 1's base is 100ms; jittered range is [100ms, 200ms)
	if sleeps[0] < 100*time.Millisecond || sleeps[0] >= 200*time.Millisecond {
		t.Fatalf("jittered delay %v outside [100ms, 200ms)", sleeps[0])
	}
}

func TestBackOffPolicyByExceptionType(t *testing.T) {
	fast := retry.NewFixedBackoffPolicy(10 * time.Millisecond)
	slow := retry.NewFixedBackoffPolicy(500 * time.Millisecond)

	classifier := retry.NewTypeClassifier[retry.BackoffPolicy](nil,
		retry.WithRule[retry.BackoffPolicy](func(err error) bool { return err.Error() == "fast" }, fast),
		retry.WithRule[retry.BackoffPolicy](func(err error) bool { return err.Error() == "slow" }, slow),
	)
	policy := retry.NewBackOffPolicyByExceptionType(classifier)

	maxPolicy := retry.NewMaxAttemptsRetryPolicy(5)
	rc := maxPolicy.Open(nil)
	maxPolicy.RegisterThrowable(rc, errFast{})

	sleeper := retry.NewRecordingSleeper()
	bctx := policy.Start(rc)
	if err := policy.BackOff(context.Background(), bctx, sleeper); err != nil {
		t.Fatalf("BackOff: %v", err)
	}
	if got := sleeper.Sleeps()[0]; got != 10*time.Millisecond {
		t.Fatalf("expected fast delegate's 10ms, got %v", got)
	}
}

type errFast struct{}

func (errFast) Error() string { return "fast" }
