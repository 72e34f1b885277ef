package retry

import (
	"time"

	"go.uber.org/atomic"
)

// Circuit-breaker defaults, both measured from the moment the circuit
// trips: the window during which each short-circuited call is counted
// (OpenTimeout), and the point after which one half-open trial call is
// let through to the delegate (ResetTimeout).
const (
	DefaultCircuitBreakerOpenTimeout  = 5 * time.Second
	DefaultCircuitBreakerResetTimeout = 20 * time.Second
)

// CircuitBreakerRetryPolicy wraps a delegate RetryPolicy with a
// three-state circuit: CLOSED calls pass straight through to the
// delegate; once the delegate reports it can no longer retry a
// failure, the circuit trips OPEN. Every subsequent call is
// short-circuited with ErrCircuitOpen for the entire window up to
// ResetTimeout: the short-circuit count advances while still within
// OpenTimeout, then holds with no further counting once OpenTimeout
// has passed but ResetTimeout has not. Only
// once ResetTimeout elapses does the circuit go HALF-OPEN, letting
// exactly one trial call reach the delegate, and closing again on its
// success or re-opening on its failure.
//
// start and shortCount use go.uber.org/atomic so concurrent callers
// sharing one policy instance never race on the trip bookkeeping.
type CircuitBreakerRetryPolicy struct {
	Delegate     RetryPolicy
	OpenTimeout  time.Duration
	ResetTimeout time.Duration
	Clock        Clock

	open       atomic.Bool
	start      atomic.Int64
	shortCount atomic.Int64
}

// NewCircuitBreakerRetryPolicy builds a CircuitBreakerRetryPolicy
// wrapping delegate. A zero openTimeout or resetTimeout falls back to
// the package defaults.
func NewCircuitBreakerRetryPolicy(delegate RetryPolicy, openTimeout, resetTimeout time.Duration) *CircuitBreakerRetryPolicy {
	if openTimeout <= 0 {
		openTimeout = DefaultCircuitBreakerOpenTimeout
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultCircuitBreakerResetTimeout
	}
	return &CircuitBreakerRetryPolicy{
		Delegate:     delegate,
		OpenTimeout:  openTimeout,
		ResetTimeout: resetTimeout,
		Clock:        DefaultClock,
	}
}

type circuitBreakerContext struct {
	delegateCtx *RetryContext
	trial       bool
}

const attrCircuitBreakerContext = "retry.circuitBreaker"

func (p *CircuitBreakerRetryPolicy) clock() Clock {
	if p.Clock == nil {
		return DefaultClock
	}
	return p.Clock
}

// Open decides, before the first attempt, whether this call may reach
// the delegate at all. A call arriving while the circuit is open is
// short-circuited for the entire window up to ResetTimeout: its
// RetryContext is marked with AttrCircuitShortCircuit, which the
// engine checks in place of invoking the operation. The short-circuit
// count only advances while still within OpenTimeout; once OpenTimeout
// has passed the circuit keeps rejecting calls with no further
// counting, and only a call arriving after ResetTimeout has elapsed is
// let through as the half-open trial.
//
// Every context is marked with AttrGlobalState: the tripped/open
// bookkeeping lives in the policy instance itself (shared across every
// call, stateful or not), not in any one RetryContext.
func (p *CircuitBreakerRetryPolicy) Open(parent *RetryContext) *RetryContext {
	ctx := newRetryContext(parent)
	ctx.SetAttribute(AttrGlobalState, true)
	cc := &circuitBreakerContext{}
	ctx.SetAttribute(attrCircuitBreakerContext, cc)
	p.admit(ctx, cc, parent)
	return ctx
}

// ReopenContext implements ContextReopener. Open runs only once per
// cache slot, so each stateful call that reuses a cached context
// re-runs the open-window gate here: a call arriving while the
// circuit is open is short-circuited (and counted, within
// OpenTimeout) exactly as a fresh one would be, and a call arriving
// after ResetTimeout is admitted as the half-open trial.
func (p *CircuitBreakerRetryPolicy) ReopenContext(ctx *RetryContext) {
	cc := circuitBreakerStateOf(ctx)
	if cc == nil {
		return
	}
	ctx.RemoveAttribute(AttrCircuitShortCircuit)
	cc.trial = false
	p.admit(ctx, cc, ctx.Parent())
}

// admit applies the open-window gate to ctx: short-circuit the call,
// admit it as the half-open trial, or pass it through to the
// delegate. A reused context keeps its accumulated delegate state
// while the circuit is closed; a trial always starts a fresh delegate
// context.
func (p *CircuitBreakerRetryPolicy) admit(ctx *RetryContext, cc *circuitBreakerContext, parent *RetryContext) {
	if p.open.Load() {
		elapsed := p.clock().Now().Sub(time.Unix(0, p.start.Load()))
		switch {
		case elapsed >= p.ResetTimeout:
			// Reset timeout elapsed: admit exactly one half-open trial,
			// restarting the window so a failed trial re-opens fresh.
			cc.trial = true
			p.start.Store(p.clock().Now().UnixNano())
			if cc.delegateCtx != nil {
				p.Delegate.Close(cc.delegateCtx)
			}
			cc.delegateCtx = p.Delegate.Open(parent)
			ctx.SetAttribute(AttrCircuitOpen, true)
			ctx.SetAttribute(AttrCircuitShortCount, int(p.shortCount.Load()))
			return
		case elapsed < p.OpenTimeout:
			n := p.shortCount.Add(1)
			ctx.SetAttribute(AttrCircuitOpen, true)
			ctx.SetAttribute(AttrCircuitShortCount, int(n))
			ctx.SetAttribute(AttrCircuitShortCircuit, true)
			return
		default:
			// Between OpenTimeout and ResetTimeout: still short-circuited,
			// but the short-circuit count does not advance further.
			ctx.SetAttribute(AttrCircuitOpen, true)
			ctx.SetAttribute(AttrCircuitShortCount, int(p.shortCount.Load()))
			ctx.SetAttribute(AttrCircuitShortCircuit, true)
			return
		}
	}

	if cc.delegateCtx == nil {
		cc.delegateCtx = p.Delegate.Open(parent)
	}
	ctx.SetAttribute(AttrCircuitOpen, false)
	ctx.SetAttribute(AttrCircuitShortCount, int(p.shortCount.Load()))
}

func circuitBreakerStateOf(ctx *RetryContext) *circuitBreakerContext {
	v, ok := ctx.Attribute(attrCircuitBreakerContext)
	if !ok {
		return nil
	}
	cc, _ := v.(*circuitBreakerContext)
	return cc
}

// CanRetry forwards to the delegate once a call has been let through,
// recording the circuit's view of the answer in AttrCircuitOpen. A
// short-circuited call never reaches here (the engine skips the
// attempt loop entirely when AttrCircuitShortCircuit is set).
func (p *CircuitBreakerRetryPolicy) CanRetry(ctx *RetryContext) bool {
	cc := circuitBreakerStateOf(ctx)
	if cc == nil || cc.delegateCtx == nil {
		return false
	}
	ok := p.Delegate.CanRetry(cc.delegateCtx)
	ctx.SetAttribute(AttrCircuitOpen, !ok)
	return ok
}

func (p *CircuitBreakerRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) {
	ctx.registerThrowable(err)
	cc := circuitBreakerStateOf(ctx)
	if cc == nil || cc.delegateCtx == nil || ctx.BoolAttribute(AttrCircuitShortCircuit) {
		return
	}
	p.Delegate.RegisterThrowable(cc.delegateCtx, err)
	if err != nil && !p.Delegate.CanRetry(cc.delegateCtx) {
		p.trip()
	}
}

func (p *CircuitBreakerRetryPolicy) trip() {
	p.open.Store(true)
	p.start.Store(p.clock().Now().UnixNano())
}

// Close finalizes the call. A successful half-open trial (no
// remaining delegate error) closes the circuit; any other trial
// failure re-opens it for another OpenTimeout window.
func (p *CircuitBreakerRetryPolicy) Close(ctx *RetryContext) {
	cc := circuitBreakerStateOf(ctx)
	if cc == nil || cc.delegateCtx == nil {
		return
	}
	p.Delegate.Close(cc.delegateCtx)
	if cc.trial {
		if cc.delegateCtx.LastError() == nil {
			p.open.Store(false)
			p.shortCount.Store(0)
		} else {
			p.trip()
		}
	}
}

// IsOpen reports whether the circuit is currently tripped open, for
// callers that want to probe state outside of an Execute call (for
// example, a health check endpoint).
func (p *CircuitBreakerRetryPolicy) IsOpen() bool { return p.open.Load() }

// ShortCircuitCount reports how many calls have been rejected while
// the circuit was open since it last closed.
func (p *CircuitBreakerRetryPolicy) ShortCircuitCount() int64 { return p.shortCount.Load() }
