package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/resilient-run/retry"
)

func TestCircuitBreakerTripsAndShortCircuits(t *testing.T) {
	clock := newFakeClock()
	delegate := retry.NewMaxAttemptsRetryPolicy(1)
	cb := retry.NewCircuitBreakerRetryPolicy(delegate, 10*time.Second, 20*time.Second)
	cb.Clock = clock

	engine := retry.NewEngine(
		retry.WithPolicy(cb),
		retry.WithEngineBackoff(retry.NoopBackoffPolicy{}),
		retry.WithEngineClock(clock),
	)

	boom := errors.New("boom")
	calls := 0
	_, err := retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("first call error = %v, want boom", err)
	}
	if !cb.IsOpen() {
		t.Fatalf("circuit not open after first failure")
	}
	if cb.ShortCircuitCount() != 0 {
		t.Fatalf("ShortCircuitCount = %d after tripping call, want 0", cb.ShortCircuitCount())
	}

	// Still within OpenTimeout: the next call must short-circuit without
	// invoking the operation at all.
	_, err = retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})
	if !errors.Is(err, retry.ErrCircuitOpen) {
		t.Fatalf("second call error = %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Fatalf("operation invoked %d times, want 1 (second call must short-circuit)", calls)
	}
	if cb.ShortCircuitCount() != 1 {
		t.Fatalf("ShortCircuitCount = %d after a short-circuited call, want 1", cb.ShortCircuitCount())
	}
}

func TestCircuitBreakerStaysOpenBetweenOpenAndResetTimeout(t *testing.T) {
	clock := newFakeClock()
	delegate := retry.NewMaxAttemptsRetryPolicy(1)
	cb := retry.NewCircuitBreakerRetryPolicy(delegate, 5*time.Second, 20*time.Second)
	cb.Clock = clock

	engine := retry.NewEngine(
		retry.WithPolicy(cb),
		retry.WithEngineBackoff(retry.NoopBackoffPolicy{}),
		retry.WithEngineClock(clock),
	)

	boom := errors.New("boom")
	calls := 0
	_, _ = retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !cb.IsOpen() {
		t.Fatalf("circuit not open after tripping failure")
	}

	// Past OpenTimeout (5s) but still well short of ResetTimeout (20s):
	// the circuit must stay short-circuited with no delegate trial, and
	// the short-circuit count must not advance further once OpenTimeout
	// itself has elapsed.
	clock.Advance(6 * time.Second)

	_, err := retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if !errors.Is(err, retry.ErrCircuitOpen) {
		t.Fatalf("call between OpenTimeout and ResetTimeout error = %v, want ErrCircuitOpen", err)
	}
	if calls != 1 {
		t.Fatalf("operation invoked %d times, want 1 (call must stay short-circuited)", calls)
	}
	if cb.ShortCircuitCount() != 0 {
		t.Fatalf("ShortCircuitCount = %d between OpenTimeout and ResetTimeout, want 0 (no further counting)", cb.ShortCircuitCount())
	}
	if !cb.IsOpen() {
		t.Fatalf("circuit closed before ResetTimeout elapsed")
	}
}

func TestCircuitBreakerHalfOpenRecoversOnSuccess(t *testing.T) {
	clock := newFakeClock()
	delegate := retry.NewMaxAttemptsRetryPolicy(1)
	cb := retry.NewCircuitBreakerRetryPolicy(delegate, 5*time.Second, 20*time.Second)
	cb.Clock = clock

	engine := retry.NewEngine(
		retry.WithPolicy(cb),
		retry.WithEngineBackoff(retry.NoopBackoffPolicy{}),
		retry.WithEngineClock(clock),
	)

	boom := errors.New("boom")
	_, _ = retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !cb.IsOpen() {
		t.Fatalf("circuit not open after tripping failure")
	}

	clock.Advance(21 * time.Second) // past ResetTimeout: next call is a trial

	result, err := retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("trial call error = %v, want nil", err)
	}
	if result != 42 {
		t.Fatalf("trial call result = %d, want 42", result)
	}
	if cb.IsOpen() {
		t.Fatalf("circuit still open after a successful trial call")
	}
}

func TestCircuitBreakerHalfOpenRetripsOnFailure(t *testing.T) {
	clock := newFakeClock()
	delegate := retry.NewMaxAttemptsRetryPolicy(1)
	cb := retry.NewCircuitBreakerRetryPolicy(delegate, 5*time.Second, 20*time.Second)
	cb.Clock = clock

	engine := retry.NewEngine(
		retry.WithPolicy(cb),
		retry.WithEngineBackoff(retry.NoopBackoffPolicy{}),
		retry.WithEngineClock(clock),
	)

	boom := errors.New("boom")
	_, _ = retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		return 0, boom
	})

	clock.Advance(21 * time.Second) // past ResetTimeout: next call is a trial

	_, err := retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("trial call error = %v, want boom", err)
	}
	if !cb.IsOpen() {
		t.Fatalf("circuit not re-opened after a failed trial call")
	}
}

func TestCircuitBreakerStatefulShortCircuitsSameKey(t *testing.T) {
	clock := newFakeClock()
	cb := retry.NewCircuitBreakerRetryPolicy(retry.NeverRetryPolicy{}, 5*time.Second, 20*time.Second)
	cb.Clock = clock

	engine := retry.NewEngine(
		retry.WithPolicy(cb),
		retry.WithEngineBackoff(retry.NoopBackoffPolicy{}),
		retry.WithEngineClock(clock),
	)

	boom := errors.New("boom")
	state := retry.NewRetryState("cb-key")
	calls := 0

	// Call 1: the failure trips the circuit, and is re-raised as every
	// stateful failure is. Nothing has been short-circuited yet.
	_, err := retry.ExecuteStateful(context.Background(), engine, state, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("call 1 err = %v, want boom", err)
	}
	if !cb.IsOpen() {
		t.Fatalf("circuit not open after call 1")
	}
	if cb.ShortCircuitCount() != 0 {
		t.Fatalf("ShortCircuitCount = %d after call 1, want 0", cb.ShortCircuitCount())
	}

	// Call 2, same key: the cached context is reused, the open circuit
	// short-circuits the call without invoking the operation, and
	// recovery runs.
	result, err := retry.ExecuteStatefulWithRecovery(context.Background(), engine, state,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, boom
		},
		func(ctx context.Context, cause error) (int, error) {
			return -1, nil
		},
	)
	if err != nil {
		t.Fatalf("call 2 err = %v, want nil (recovered)", err)
	}
	if result != -1 {
		t.Fatalf("call 2 result = %d, want -1", result)
	}
	if calls != 1 {
		t.Fatalf("operation invoked %d times, want 1 (call 2 must short-circuit)", calls)
	}
	if cb.ShortCircuitCount() != 1 {
		t.Fatalf("ShortCircuitCount = %d after call 2, want 1", cb.ShortCircuitCount())
	}
}

func TestCircuitBreakerContextMarkedGlobalState(t *testing.T) {
	delegate := retry.NewMaxAttemptsRetryPolicy(1)
	cb := retry.NewCircuitBreakerRetryPolicy(delegate, 5*time.Second, 20*time.Second)

	rc := cb.Open(nil)
	if !rc.BoolAttribute(retry.AttrGlobalState) {
		t.Fatalf("AttrGlobalState not set on a CircuitBreakerRetryPolicy context")
	}
}
