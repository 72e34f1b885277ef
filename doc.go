// Package retry provides retry, backoff, and circuit-breaker
// primitives for operations that fail transiently, ranging from a
// single convenience call to a fully composable engine with
// listeners, statistics, and stateful execution.
//
// retry provides:
//
//   - A simple Func/Policy/Do API for the common case: retry an
//     operation that returns only an error.
//   - A generic Engine/Execute API for operations that return a
//     result, with pluggable RetryPolicy, BackoffPolicy, listeners,
//     and statistics.
//   - Composable retry policies: max-attempts, classifier-gated,
//     composite (all-of/any-of), circuit-breaker, and
//     exception-classified dispatch to different delegate policies.
//   - Composable backoff policies: fixed, uniform-random, exponential
//     (with or without jitter), and exception-classified dispatch.
//   - Stateful execution, for operations retried across separate
//     calls (for example, a message redelivered by a queue) rather
//     than in a single in-process loop.
//   - Statistics and Prometheus metrics for retry activity.
//
// # Quick Start
//
// Using the global Do function for one-off retries:
//
//	err := retry.Do(ctx, func(ctx context.Context) error {
//	    return client.Call(ctx)
//	})
//
// Creating a reusable policy for dependency injection:
//
//	// At wire-up time (e.g., in main or a DI container)
//	policy := retry.New(
//	    retry.WithMaxAttempts(5),
//	    retry.WithBackoffPolicy(retry.DefaultExponentialBackoffPolicy()),
//	)
//
//	// At call site
//	err := policy.Do(ctx, func(ctx context.Context) error {
//	    return client.Call(ctx)
//	},
//	    retry.If(isTransient),
//	    retry.OnRetry(func(ctx context.Context, attempt int, err error, delay time.Duration) {
//	        log.Warn("retrying", "attempt", attempt, "error", err, "delay", delay)
//	    }),
//	)
//
// # Engine: results, listeners, statistics
//
// Func returns only an error; Engine's Operation[T] returns a result
// too, and is driven by a RetryPolicy/BackoffPolicy pair instead of
// the flattened config Policy uses:
//
//	engine := retry.NewEngine(
//	    retry.WithPolicy(retry.NewSimpleRetryPolicy(5,
//	        retry.NewBinaryClassifier(retry.WithBinaryRule(isTransient, true)), nil)),
//	    retry.WithEngineBackoff(retry.DefaultExponentialBackoffPolicy()),
//	    retry.WithListener(retry.NewStatisticsListener(stats, false)),
//	    retry.WithLabel("fetch-user"),
//	)
//
//	user, err := retry.Execute(ctx, engine, func(ctx context.Context) (*User, error) {
//	    return db.FetchUser(ctx, id)
//	})
//
// # Terminal Errors
//
// Use Stop to signal that an error should not be retried:
//
//	func fetchUser(ctx context.Context, id string) (*User, error) {
//	    user, err := db.Get(ctx, id)
//	    if errors.Is(err, sql.ErrNoRows) {
//	        return nil, retry.Stop(ErrNotFound)  // Don't retry "not found"
//	    }
//	    return user, err  // Other errors will be retried
//	}
//
// # Backoff Policies
//
//	retry.NewFixedBackoffPolicy(100*time.Millisecond)
//	retry.NewUniformRandomBackoffPolicy(100*time.Millisecond, 500*time.Millisecond)
//	retry.DefaultExponentialBackoffPolicy()                 // 100ms, 2x, 30s cap
//	retry.NewExponentialRandomBackoffPolicy(100*time.Millisecond, 2.0, 10*time.Second)
//
// # Circuit Breaker
//
// CircuitBreakerRetryPolicy wraps any delegate RetryPolicy; once the
// delegate exhausts a call's attempts, the circuit trips open and
// short-circuits subsequent calls with ErrCircuitOpen, counting each
// short-circuited call until OpenTimeout elapses. Past OpenTimeout the
// circuit keeps short-circuiting (with no further counting) until
// ResetTimeout elapses, at which point it allows one half-open trial
// call through:
//
//	breaker := retry.NewCircuitBreakerRetryPolicy(
//	    retry.NewMaxAttemptsRetryPolicy(1),
//	    5*time.Second, 20*time.Second,
//	)
//
// # Time Budgets
//
// Use both MaxAttempts and MaxDuration for precise control:
//
//	policy := retry.New(
//	    retry.WithMaxAttempts(10),               // Stop after 10 attempts
//	    retry.WithMaxDuration(30*time.Second),   // OR stop after 30s total
//	)
//
// The retry loop stops when either limit is reached first.
//
// # Lifecycle Hooks
//
// Hooks provide observability without coupling to a specific logger or metrics system:
//
//	err := policy.Do(ctx, fn,
//	    retry.OnRetry(func(ctx context.Context, attempt int, err error, delay time.Duration) {
//	        logger.Warn("retrying", "attempt", attempt, "delay", delay)
//	    }),
//	    retry.OnSuccess(func(ctx context.Context, attempts int) {
//	        if attempts > 1 {
//	            logger.Info("recovered", "attempts", attempts)
//	        }
//	    }),
//	    retry.OnExhausted(func(ctx context.Context, attempts int, err error) {
//	        logger.Error("gave up", "attempts", attempts, "error", err)
//	    }),
//	)
//
// Engine callers get the same observability through a RetryListener
// registered with WithListener, plus a StatisticsRepository (in
// process via DefaultStatisticsRepository, or exported to Prometheus
// via PrometheusStatisticsRepository).
//
// # Error Aggregation
//
// By default, only the last error is returned. Use WithAllErrors to collect all:
//
//	err := retry.Do(ctx, fn, retry.WithAllErrors())
//	// err contains all attempt errors via errors.Join
//	// errors.Is/As work through the chain
//
// # Testing
//
// Inject RecordingSleeper to assert on backoff durations without real
// sleeps, and a fake Clock to control elapsed time:
//
//	sleeper := retry.NewRecordingSleeper()
//	policy := retry.New(
//	    retry.WithMaxAttempts(3),
//	    retry.WithSleeper(sleeper),
//	)
//
//	attempts := 0
//	_ = policy.Do(ctx, func(ctx context.Context) error {
//	    attempts++
//	    return errors.New("fail")
//	})
//
//	require.Equal(t, 3, attempts)
//	require.Len(t, sleeper.Sleeps(), 2) // 2 sleeps between 3 attempts
//
// # Pre-Built Policies
//
// The package provides convenience functions for common configurations:
//
//	retry.Never()   // No retries, just run once
//	retry.Default() // Sensible defaults (3 attempts, exponential backoff with jitter)
package retry
