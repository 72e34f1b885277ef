package retry

import "errors"

// Sentinel errors for the failure kinds the engine itself can raise,
// as opposed to errors surfaced from the wrapped operation.
var (
	// ErrTerminatedRetry is raised when a listener's Open vetoes the
	// attempt loop before the first attempt runs.
	ErrTerminatedRetry = errors.New("retry: terminated by listener")

	// ErrBackoffInterrupted is raised when the sleeper is interrupted
	// while pausing between attempts.
	ErrBackoffInterrupted = errors.New("retry: backoff interrupted")

	// ErrExhaustedRetry is raised in stateful mode when the cached
	// policy refuses further attempts and no recovery path is
	// configured.
	ErrExhaustedRetry = errors.New("retry: exhausted with no recovery")

	// ErrCacheCapacityExceeded is raised by a RetryContextCache when a
	// Put would exceed its configured capacity.
	ErrCacheCapacityExceeded = errors.New("retry: context cache capacity exceeded")

	// ErrClassificationFailure is raised when a classifier-driven
	// retry policy cannot resolve a delegate for the observed error.
	ErrClassificationFailure = errors.New("retry: classification failure")

	// ErrCircuitOpen is raised in place of invoking the operation when
	// a CircuitBreakerRetryPolicy short-circuits a call because the
	// circuit is open.
	ErrCircuitOpen = errors.New("retry: circuit open")
)

// Stop wraps an error to signal the Func convenience loop that it
// must not be retried; Do returns the unwrapped error immediately.
// Engine callers express the same thing through their RetryPolicy's
// classifier instead.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &terminalError{cause: err}
}

// terminalError marks an error as not retryable. It presents the
// wrapped error's message so callers comparing strings see no
// difference, and unwraps to it so errors.Is/As keep working.
type terminalError struct {
	cause error
}

func (e *terminalError) Error() string { return e.cause.Error() }

func (e *terminalError) Unwrap() error { return e.cause }
