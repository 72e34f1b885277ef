package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Operation is a retryable operation that carries a result back,
// invoked with a context.Context that holds the active RetryContext
// (retrievable with CurrentContext) for diagnostics and for
// policies/listeners that need it. Operations without a result use
// the Func/Do convenience API instead.
type Operation[T any] func(ctx context.Context) (T, error)

// RecoveryFunc is invoked once retries are exhausted, in place of the
// operation's result.
type RecoveryFunc[T any] func(ctx context.Context, cause error) (T, error)

// currentContextKey is the context.Context key under which the active
// RetryContext is stored, so the running operation (and anything it
// calls) can reach its own retry bookkeeping without a side channel.
type currentContextKey struct{}

// CurrentContext retrieves the RetryContext the engine attached to
// ctx for the operation currently executing, or nil outside of one.
// Nested retries (an operation that itself calls Execute) see their
// enclosing RetryContext via Parent().
func CurrentContext(ctx context.Context) *RetryContext {
	rc, _ := ctx.Value(currentContextKey{}).(*RetryContext)
	return rc
}

func withCurrentContext(ctx context.Context, rc *RetryContext) context.Context {
	return context.WithValue(ctx, currentContextKey{}, rc)
}

// Engine drives one Execute call through a RetryPolicy and
// BackoffPolicy, publishing lifecycle events to a ListenerSet and
// (optionally) a StatisticsRepository.
type Engine struct {
	Policy         RetryPolicy
	Backoff        BackoffPolicy
	Sleeper        Sleeper
	Clock          Clock
	Cache          RetryContextCache
	Listeners      *ListenerSet
	Label          string
	WrapExhaustion bool
	MaxDuration    time.Duration
	Logger         *zap.Logger
}

// EngineOption configures an Engine under construction.
type EngineOption func(*Engine)

// WithPolicy sets the RetryPolicy. Defaults to a SimpleRetryPolicy
// with 3 attempts and an always-retry classifier.
func WithPolicy(p RetryPolicy) EngineOption { return func(e *Engine) { e.Policy = p } }

// WithEngineBackoff sets the BackoffPolicy. Defaults to
// DefaultExponentialBackoffPolicy.
func WithEngineBackoff(b BackoffPolicy) EngineOption { return func(e *Engine) { e.Backoff = b } }

// WithEngineSleeper sets the Sleeper. Defaults to BlockingSleeper.
func WithEngineSleeper(s Sleeper) EngineOption { return func(e *Engine) { e.Sleeper = s } }

// WithEngineClock sets the Clock used for max-duration bookkeeping.
func WithEngineClock(c Clock) EngineOption { return func(e *Engine) { e.Clock = c } }

// WithCache sets the RetryContextCache used for stateful executions.
// Defaults to a MapRetryContextCache with DefaultCacheCapacity.
func WithCache(c RetryContextCache) EngineOption { return func(e *Engine) { e.Cache = c } }

// WithListener registers an additional RetryListener.
func WithListener(l RetryListener) EngineOption {
	return func(e *Engine) { e.Listeners.Add(l) }
}

// WithLabel sets the label used to key statistics for this engine.
func WithLabel(label string) EngineOption { return func(e *Engine) { e.Label = label } }

// WithWrapExhaustion configures Execute to wrap the final error in
// ErrExhaustedRetry instead of returning the operation's error
// verbatim.
func WithWrapExhaustion() EngineOption { return func(e *Engine) { e.WrapExhaustion = true } }

// WithEngineLogger sets the zap.Logger used for diagnostic logging.
func WithEngineLogger(logger *zap.Logger) EngineOption { return func(e *Engine) { e.Logger = logger } }

// WithEngineMaxDuration sets a total time budget across all attempts
// of one Execute call, measured with e.Clock. Retries stop once the
// budget is exceeded, even if the policy would otherwise permit
// another attempt. Zero (the default) means no time budget.
func WithEngineMaxDuration(d time.Duration) EngineOption { return func(e *Engine) { e.MaxDuration = d } }

// NewEngine builds an Engine, applying sensible defaults and then
// opts in order.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		Policy:    NewSimpleRetryPolicy(DefaultMaxAttempts, nil, nil),
		Backoff:   DefaultExponentialBackoffPolicy(),
		Sleeper:   DefaultSleeper,
		Clock:     DefaultClock,
		Cache:     NewMapRetryContextCache(DefaultCacheCapacity),
		Listeners: NewListenerSet(),
		Logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs op under e's policy and backoff in stateless mode,
// looping: invoke, and on failure consult the policy and back off
// before the next attempt. On exhaustion the last error is returned
// (or wrapped in ErrExhaustedRetry if e.WrapExhaustion is set).
func Execute[T any](ctx context.Context, e *Engine, op Operation[T]) (T, error) {
	return ExecuteWithRecovery(ctx, e, op, nil)
}

// ExecuteWithRecovery is Execute, but on exhaustion invokes recover
// (if non-nil) and returns its result instead of the last error.
func ExecuteWithRecovery[T any](ctx context.Context, e *Engine, op Operation[T], recover RecoveryFunc[T]) (T, error) {
	var zero T
	parent := CurrentContext(ctx)
	rc := e.Policy.Open(parent)
	rc.SetAttribute(AttrLabel, e.Label)
	opCtx := withCurrentContext(ctx, rc)

	if !e.Listeners.Open(rc) {
		e.Listeners.Close(rc, ErrTerminatedRetry)
		e.Policy.Close(rc)
		return zero, ErrTerminatedRetry
	}

	if rc.BoolAttribute(AttrCircuitShortCircuit) {
		e.Policy.RegisterThrowable(rc, ErrCircuitOpen)
		e.Listeners.OnError(rc, ErrCircuitOpen)
		return finish(opCtx, e, rc, recover, ErrCircuitOpen)
	}

	var deadline time.Time
	if e.MaxDuration > 0 {
		deadline = e.Clock.Now().Add(e.MaxDuration)
	}

	var bctx BackoffContext
	backoffStarted := false
	attempt := 0

	for {
		attempt++
		result, err := op(opCtx)
		if err == nil {
			if sErr := e.Listeners.OnSuccess(rc, attempt); sErr == nil {
				rc.SetAttribute(AttrClosed, true)
				e.Listeners.Close(rc, nil)
				e.Policy.Close(rc)
				return result, nil
			} else {
				err = sErr
			}
		}

		e.Policy.RegisterThrowable(rc, err)
		e.Listeners.OnError(rc, err)

		if rc.BoolAttribute(AttrClassificationFailed) {
			return zero, classificationFailure(e, rc, err)
		}
		if rc.BoolAttribute(AttrNoRecovery) {
			return finish(opCtx, e, rc, recover, err)
		}
		if rc.ExhaustedOnly() || !e.Policy.CanRetry(rc) {
			return finish(opCtx, e, rc, recover, err)
		}
		if e.MaxDuration > 0 && e.Clock.Now().After(deadline) {
			return finish(opCtx, e, rc, recover, err)
		}

		if !backoffStarted {
			bctx = e.Backoff.Start(rc)
			backoffStarted = true
		}
		e.Logger.Debug("retrying after error",
			zap.Int("attempt", attempt),
			zap.String("label", e.Label),
			zap.Error(err))
		if sleepErr := e.Backoff.BackOff(ctx, bctx, e.Sleeper); sleepErr != nil {
			rc.SetAttribute(AttrExhausted, true)
			e.Listeners.Close(rc, sleepErr)
			e.Policy.Close(rc)
			return zero, fmt.Errorf("%w: %w", ErrBackoffInterrupted, sleepErr)
		}
	}
}

// finish resolves the outcome once the policy refuses further
// attempts (stateless mode): run recovery if present and not
// disallowed, otherwise surface the exhaustion.
func finish[T any](ctx context.Context, e *Engine, rc *RetryContext, recover RecoveryFunc[T], lastErr error) (T, error) {
	var zero T
	if recover != nil && !rc.BoolAttribute(AttrNoRecovery) {
		result, rErr := recover(ctx, lastErr)
		rc.SetAttribute(AttrRecovered, true)
		e.Listeners.Close(rc, lastErr)
		e.Policy.Close(rc)
		if rErr != nil {
			e.Logger.Error("recovery callback failed", zap.Error(rErr))
			return zero, rErr
		}
		return result, nil
	}
	rc.SetAttribute(AttrExhausted, true)
	e.Listeners.Close(rc, lastErr)
	e.Policy.Close(rc)
	e.Logger.Error("retry attempts exhausted", zap.String("label", e.Label), zap.Error(lastErr))
	if e.WrapExhaustion {
		return zero, fmt.Errorf("%w: %w", ErrExhaustedRetry, lastErr)
	}
	return zero, lastErr
}

// classificationFailure resolves the outcome when a classifier-backed
// policy could not resolve a delegate for err. This is a programming
// error, not a retryable or recoverable condition, so it bypasses
// recovery entirely rather than routing through finish.
func classificationFailure(e *Engine, rc *RetryContext, err error) error {
	rc.SetAttribute(AttrExhausted, true)
	wrapped := fmt.Errorf("%w: %w", ErrClassificationFailure, err)
	e.Listeners.Close(rc, wrapped)
	e.Policy.Close(rc)
	e.Logger.Error("retry classification failure", zap.String("label", e.Label), zap.Error(wrapped))
	return wrapped
}

// ExecuteStateful runs op exactly once against a RetryContext cached
// under state.Key, for operations retried across separate calls
// rather than in one in-process loop (for example, a message an
// external broker redelivers). See ExecuteStatefulWithRecovery for the
// full semantics.
func ExecuteStateful[T any](ctx context.Context, e *Engine, state *RetryState, op Operation[T]) (T, error) {
	return ExecuteStatefulWithRecovery(ctx, e, state, op, nil)
}

// ExecuteStatefulWithRecovery runs op exactly once. Before invoking op,
// it consults any RetryContext cached from a prior call with the same
// state.Key: if that prior call already exhausted the policy's
// attempts, this call short-circuits straight to recovery (or, with no
// recovery callback or with AttrNoRecovery set, fails with
// ErrExhaustedRetry wrapping the cached failure) without invoking op
// again. Otherwise op runs
// once; on failure the (possibly new) RetryContext is cached for a
// subsequent call to pick up, and the error is always returned to the
// caller of *this* call; recovery only ever happens on a later call's
// pre-invoke check, never in the same call that observes exhaustion.
// This mirrors an external redelivery mechanism driving each attempt,
// rather than the engine looping and sleeping internally.
func ExecuteStatefulWithRecovery[T any](ctx context.Context, e *Engine, state *RetryState, op Operation[T], recover RecoveryFunc[T]) (T, error) {
	var zero T
	key := state.Key()
	if state.IsForceRefresh() {
		e.Cache.Remove(key)
	}

	rc, cached := e.Cache.Get(key)
	isNew := !cached
	if isNew {
		parent := CurrentContext(ctx)
		rc = e.Policy.Open(parent)
		rc.SetAttribute(AttrLabel, e.Label)
		rc.SetAttribute(AttrStateKey, key)
		if !e.Listeners.Open(rc) {
			e.Listeners.Close(rc, ErrTerminatedRetry)
			e.Policy.Close(rc)
			return zero, ErrTerminatedRetry
		}
	} else if r, ok := e.Policy.(ContextReopener); ok {
		r.ReopenContext(rc)
	}
	opCtx := withCurrentContext(ctx, rc)

	if rc.BoolAttribute(AttrCircuitShortCircuit) {
		e.Policy.RegisterThrowable(rc, ErrCircuitOpen)
		e.Listeners.OnError(rc, ErrCircuitOpen)
		e.Cache.Remove(key)
		return finish(opCtx, e, rc, recover, ErrCircuitOpen)
	}

	if !isNew && (rc.ExhaustedOnly() || !e.Policy.CanRetry(rc)) {
		lastErr := rc.LastError()
		e.Cache.Remove(key)
		if recover == nil || rc.BoolAttribute(AttrNoRecovery) {
			rc.SetAttribute(AttrExhausted, true)
			e.Listeners.Close(rc, lastErr)
			e.Policy.Close(rc)
			return zero, fmt.Errorf("%w: %w", ErrExhaustedRetry, lastErr)
		}
		return finish(opCtx, e, rc, recover, lastErr)
	}

	result, err := op(opCtx)
	if err == nil {
		if sErr := e.Listeners.OnSuccess(rc, rc.RetryCount()+1); sErr == nil {
			rc.SetAttribute(AttrClosed, true)
			e.Cache.Remove(key)
			e.Listeners.Close(rc, nil)
			e.Policy.Close(rc)
			return result, nil
		} else {
			err = sErr
		}
	}

	e.Policy.RegisterThrowable(rc, err)
	e.Listeners.OnError(rc, err)

	if rc.BoolAttribute(AttrClassificationFailed) {
		e.Cache.Remove(key)
		return zero, classificationFailure(e, rc, err)
	}

	if putErr := e.Cache.Put(key, rc); putErr != nil {
		e.Logger.Error("stateful retry context cache put failed", zap.Error(putErr))
	}
	return zero, err
}
