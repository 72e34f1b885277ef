package retry

import (
	"context"
	"errors"
	"time"
)

// Func is the function signature for retryable operations that report
// only success or failure, with no result value to carry back. Policy
// and Do are the convenience layer built for this common case; callers
// that need a result value use Engine and Execute directly.
type Func func(ctx context.Context) error

// Condition determines whether an error should be retried.
type Condition func(error) bool

// OnRetryFunc is called once before each retry, with the delay the
// backoff policy pauses for (zero when the policy does not pause).
type OnRetryFunc func(ctx context.Context, attempt int, err error, delay time.Duration)

// OnSuccessFunc is called when the function succeeds.
type OnSuccessFunc func(ctx context.Context, attempts int)

// OnExhaustedFunc is called when all retry attempts are exhausted.
type OnExhaustedFunc func(ctx context.Context, attempts int, err error)

// Policy is a reusable, concurrency-safe retry configuration for the
// Func convenience API. It is intentionally narrower than Engine: no
// listeners, no statistics, no recovery callback, just attempts,
// backoff, and a time budget.
type Policy struct {
	maxAttempts int
	maxDuration time.Duration
	backoff     BackoffPolicy
	clock       Clock
	sleeper     Sleeper
}

// DefaultMaxAttempts is the attempt ceiling used when none is
// configured.
const DefaultMaxAttempts = 3

// package-level defaults to avoid allocation
var (
	defaultBackoff = DefaultExponentialBackoffPolicy()
	defaultClock   = DefaultClock
	defaultSleeper = DefaultSleeper
)

// New creates a Policy with the given options.
func New(opts ...Option) *Policy {
	cfg := &config{
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultExponentialBackoffPolicy(),
		clock:       DefaultClock,
		sleeper:     DefaultSleeper,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Policy{
		maxAttempts: cfg.maxAttempts,
		maxDuration: cfg.maxDuration,
		backoff:     cfg.backoff,
		clock:       cfg.clock,
		sleeper:     cfg.sleeper,
	}
}

// Never returns a policy that does not retry.
func Never() *Policy {
	return New(WithMaxAttempts(1))
}

// Default returns a policy with sensible defaults: three attempts,
// exponential backoff capped at 10s with jitter.
func Default() *Policy {
	return New(
		WithMaxAttempts(3),
		WithBackoffPolicy(NewExponentialRandomBackoffPolicy(DefaultInitialInterval, DefaultMultiplier, 10*time.Second)),
	)
}

// Do executes fn with retry using package defaults.
func Do(ctx context.Context, fn Func, opts ...Option) error {
	cfg := config{
		maxAttempts: DefaultMaxAttempts,
		backoff:     defaultBackoff,
		clock:       defaultClock,
		sleeper:     defaultSleeper,
		condition:   defaultCondition,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return execute(ctx, fn, cfg)
}

// Do executes fn with retry using this policy's configuration,
// customized at the call site by opts.
func (p *Policy) Do(ctx context.Context, fn Func, opts ...Option) error {
	cfg := config{
		maxAttempts: p.maxAttempts,
		maxDuration: p.maxDuration,
		backoff:     p.backoff,
		clock:       p.clock,
		sleeper:     p.sleeper,
		condition:   defaultCondition,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return execute(ctx, fn, cfg)
}

func execute(ctx context.Context, fn Func, cfg config) error {
	var lastErr error
	var errs []error
	var deadline time.Time

	if cfg.maxDuration > 0 {
		deadline = cfg.clock.Now().Add(cfg.maxDuration)
	}

	maxAttempts := cfg.maxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	var bctx BackoffContext
	backoffStarted := false

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if cfg.onSuccess != nil {
				cfg.onSuccess(ctx, attempt)
			}
			return nil
		}

		var terminal *terminalError
		if errors.As(err, &terminal) {
			return terminal.Unwrap()
		}

		if cfg.allErrors {
			errs = append(errs, err)
		} else {
			lastErr = err
		}

		if attempt >= maxAttempts {
			if cfg.onExhausted != nil {
				cfg.onExhausted(ctx, attempt, err)
			}
			if cfg.allErrors {
				return joinErrors(errs)
			}
			return lastErr
		}

		if cfg.condition != nil && !cfg.condition(err) {
			if cfg.allErrors {
				return joinErrors(errs)
			}
			return lastErr
		}

		if cfg.maxDuration > 0 && cfg.clock.Now().After(deadline) {
			if cfg.onExhausted != nil {
				cfg.onExhausted(ctx, attempt, err)
			}
			if cfg.allErrors {
				return joinErrors(errs)
			}
			return lastErr
		}

		if !backoffStarted {
			bctx = cfg.backoff.Start(nil)
			backoffStarted = true
		}

		sleeper := cfg.sleeper
		if cfg.maxDuration > 0 {
			remaining := deadline.Sub(cfg.clock.Now())
			if remaining <= 0 {
				if cfg.onExhausted != nil {
					cfg.onExhausted(ctx, attempt, err)
				}
				if cfg.allErrors {
					return joinErrors(errs)
				}
				return lastErr
			}
			sleeper = cappedSleeper{inner: sleeper, cap: remaining}
		}
		notified := false
		if cfg.onRetry != nil {
			sleeper = notifyingSleeper{inner: sleeper, notify: func(d time.Duration) {
				notified = true
				cfg.onRetry(ctx, attempt, err, d)
			}}
		}

		sleepErr := cfg.backoff.BackOff(ctx, bctx, sleeper)
		if sleepErr == nil && cfg.onRetry != nil && !notified {
			// The backoff policy did not pause (NoopBackoffPolicy, for
			// example); the hook still fires once for this retry.
			cfg.onRetry(ctx, attempt, err, 0)
		}
		if sleepErr != nil {
			if cfg.allErrors {
				return joinErrors(errs)
			}
			return lastErr
		}
	}
}

// cappedSleeper clamps every requested sleep to at most cap, so a
// maxDuration budget is honored even mid-backoff.
type cappedSleeper struct {
	inner Sleeper
	cap   time.Duration
}

func (s cappedSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d > s.cap {
		d = s.cap
	}
	return s.inner.Sleep(ctx, d)
}

// notifyingSleeper invokes notify with the duration about to be slept
// before delegating, giving OnRetry hooks the actual computed delay.
type notifyingSleeper struct {
	inner  Sleeper
	notify func(time.Duration)
}

func (s notifyingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.notify(d)
	return s.inner.Sleep(ctx, d)
}

func joinErrors(errs []error) error {
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

func defaultCondition(err error) bool {
	return err != nil
}
