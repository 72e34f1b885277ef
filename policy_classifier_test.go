package retry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/resilient-run/retry"
)

type dbErr struct{ error }
type validationErr struct{ error }

func TestExceptionClassifierRetryPolicy(t *testing.T) {
	errDB := dbErr{errors.New("db unavailable")}
	errValidation := validationErr{errors.New("invalid input")}

	dbPolicy := retry.NewMaxAttemptsRetryPolicy(3)
	validationPolicy := retry.NeverRetryPolicy{}

	classifier := retry.NewTypeClassifier[retry.RetryPolicy](dbPolicy,
		retry.WithTypeOf[retry.RetryPolicy](errValidation, validationPolicy),
		retry.WithTypeOf[retry.RetryPolicy](errDB, dbPolicy),
	)
	p := retry.NewExceptionClassifierRetryPolicy(classifier)
	rc := p.Open(nil)

	// Before any error is registered, the policy has not yet selected
	// a delegate and so CanRetry returns true unconditionally.
	if !p.CanRetry(rc) {
		t.Fatalf("CanRetry() before first error = false, want true")
	}

	p.RegisterThrowable(rc, errDB)
	if !p.CanRetry(rc) {
		t.Fatalf("CanRetry() after one db error = false, want true (policy allows up to 3)")
	}

	p.RegisterThrowable(rc, errValidation)
	if p.CanRetry(rc) {
		t.Fatalf("CanRetry() after validation error = true, want false (NeverRetryPolicy delegate)")
	}

	p.Close(rc) // must not panic
}

type errA struct{ error }
type errB struct{ error }

func TestExceptionClassifierRetryPolicySharedDelegateAccumulates(t *testing.T) {
	// Two different classified error types that map to the same
	// delegate instance must share that delegate's attempt count.
	shared := retry.NewMaxAttemptsRetryPolicy(2)
	sampleA := errA{errors.New("a")}
	sampleB := errB{errors.New("b")}

	classifier := retry.NewTypeClassifier[retry.RetryPolicy](shared,
		retry.WithTypeOf[retry.RetryPolicy](sampleA, shared),
		retry.WithTypeOf[retry.RetryPolicy](sampleB, shared),
	)
	p := retry.NewExceptionClassifierRetryPolicy(classifier)
	rc := p.Open(nil)

	p.RegisterThrowable(rc, sampleA)
	if !p.CanRetry(rc) {
		t.Fatalf("CanRetry() after 1 failure = false, want true")
	}
	p.RegisterThrowable(rc, sampleB)
	if p.CanRetry(rc) {
		t.Fatalf("CanRetry() after 2 failures across different classified errors sharing one delegate = true, want false")
	}
}

type unmappedErr struct{ error }

func TestExceptionClassifierRetryPolicyClassificationFailure(t *testing.T) {
	// No default and no rule matches unmappedErr: the classifier
	// resolves no delegate at all, and no delegate was selected by any
	// earlier error either.
	classifier := retry.NewTypeClassifier[retry.RetryPolicy](nil)
	p := retry.NewExceptionClassifierRetryPolicy(classifier)
	rc := p.Open(nil)

	p.RegisterThrowable(rc, unmappedErr{errors.New("boom")})
	if p.CanRetry(rc) {
		t.Fatalf("CanRetry() after an unclassifiable error = true, want false")
	}
	p.Close(rc) // must not panic with no delegate ever opened
}

func TestEngineExecuteRaisesClassificationFailure(t *testing.T) {
	classifier := retry.NewTypeClassifier[retry.RetryPolicy](nil)
	engine := retry.NewEngine(
		retry.WithPolicy(retry.NewExceptionClassifierRetryPolicy(classifier)),
		retry.WithEngineBackoff(retry.NoopBackoffPolicy{}),
	)

	boom := errors.New("boom")
	calls := 0
	_, err := retry.Execute(context.Background(), engine, func(ctx context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, retry.ErrClassificationFailure) {
		t.Fatalf("err = %v, want ErrClassificationFailure", err)
	}
	if calls != 1 {
		t.Fatalf("operation invoked %d times, want 1 (classification failure stops the loop immediately)", calls)
	}
}
