package retry

// RetryPolicy is a stateless factory over retry contexts: Open begins
// (or, via a RetryContextCache, resumes) one execution's bookkeeping;
// CanRetry decides whether another attempt is permitted; Close
// releases any resources Open acquired.
type RetryPolicy interface {
	Open(parent *RetryContext) *RetryContext
	CanRetry(ctx *RetryContext) bool
	RegisterThrowable(ctx *RetryContext, err error)
	Close(ctx *RetryContext)
}

// MaxAttemptsReporter is implemented by policies that can report a
// bound on the number of attempts they permit, for introspection by
// callers (for example, sizing a worker pool around a known ceiling).
// Policies without a natural bound do not implement it.
type MaxAttemptsReporter interface {
	MaxAttempts() int
}

// ContextReopener is implemented by policies that keep per-call
// admission state. A stateful execution reusing a cached RetryContext
// never goes through Open again, so the engine calls ReopenContext
// instead, giving the policy a chance to re-evaluate that state (the
// circuit breaker's open-window gate) before the attempt proceeds.
type ContextReopener interface {
	ReopenContext(ctx *RetryContext)
}

// NeverRetryPolicy never permits a retry: once the first attempt
// fails, CanRetry is false. The operation still runs exactly once,
// since the engine always performs the first attempt unconditionally.
type NeverRetryPolicy struct{}

func (NeverRetryPolicy) Open(parent *RetryContext) *RetryContext { return newRetryContext(parent) }
func (NeverRetryPolicy) CanRetry(*RetryContext) bool             { return false }
func (NeverRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) { ctx.registerThrowable(err) }
func (NeverRetryPolicy) Close(*RetryContext)                     {}
func (NeverRetryPolicy) MaxAttempts() int                        { return 1 }

// AlwaysRetryPolicy always permits another attempt. In stateful mode
// it is bounded only by the RetryContextCache's capacity.
type AlwaysRetryPolicy struct{}

func (AlwaysRetryPolicy) Open(parent *RetryContext) *RetryContext { return newRetryContext(parent) }
func (AlwaysRetryPolicy) CanRetry(*RetryContext) bool             { return true }
func (AlwaysRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) { ctx.registerThrowable(err) }
func (AlwaysRetryPolicy) Close(*RetryContext)                     {}

// MaxAttemptsRetryPolicy permits retrying until the retry count
// reaches Max; Max includes the initial attempt.
type MaxAttemptsRetryPolicy struct {
	Max int
}

// NewMaxAttemptsRetryPolicy builds a MaxAttemptsRetryPolicy. A
// non-positive max is treated as 1 (no retries).
func NewMaxAttemptsRetryPolicy(max int) *MaxAttemptsRetryPolicy {
	if max < 1 {
		max = 1
	}
	return &MaxAttemptsRetryPolicy{Max: max}
}

func (p *MaxAttemptsRetryPolicy) Open(parent *RetryContext) *RetryContext {
	return newRetryContext(parent)
}
func (p *MaxAttemptsRetryPolicy) CanRetry(ctx *RetryContext) bool {
	return ctx.RetryCount() < p.Max
}
func (p *MaxAttemptsRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) {
	ctx.registerThrowable(err)
}
func (p *MaxAttemptsRetryPolicy) Close(*RetryContext) {}
func (p *MaxAttemptsRetryPolicy) MaxAttempts() int    { return p.Max }

// BinaryClassifierRetryPolicy permits a retry when no error has yet
// been registered (the first attempt's pre-condition), or when the
// configured classifier classifies the last error as retryable. A nil
// classifier treats every error as retryable.
type BinaryClassifierRetryPolicy struct {
	Classifier Classifier[bool]
}

// NewBinaryClassifierRetryPolicy builds a BinaryClassifierRetryPolicy
// around classifier.
func NewBinaryClassifierRetryPolicy(classifier Classifier[bool]) *BinaryClassifierRetryPolicy {
	return &BinaryClassifierRetryPolicy{Classifier: classifier}
}

func (p *BinaryClassifierRetryPolicy) Open(parent *RetryContext) *RetryContext {
	return newRetryContext(parent)
}
func (p *BinaryClassifierRetryPolicy) CanRetry(ctx *RetryContext) bool {
	err := ctx.LastError()
	if err == nil || p.Classifier == nil {
		return true
	}
	return p.Classifier.Classify(err)
}
func (p *BinaryClassifierRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) {
	ctx.registerThrowable(err)
}
func (p *BinaryClassifierRetryPolicy) Close(*RetryContext) {}

// CompositeRetryPolicy combines N child policies. In Pessimistic mode
// CanRetry requires every child to agree; in Optimistic mode any
// child agreeing is enough. RegisterThrowable and Close are broadcast
// to every child.
type CompositeRetryPolicy struct {
	Children   []RetryPolicy
	Optimistic bool
}

// NewCompositeRetryPolicy builds a CompositeRetryPolicy over children.
func NewCompositeRetryPolicy(optimistic bool, children ...RetryPolicy) *CompositeRetryPolicy {
	return &CompositeRetryPolicy{Children: children, Optimistic: optimistic}
}

type compositeContext struct {
	children []*RetryContext
}

func (p *CompositeRetryPolicy) Open(parent *RetryContext) *RetryContext {
	ctx := newRetryContext(parent)
	cc := &compositeContext{children: make([]*RetryContext, len(p.Children))}
	for i, child := range p.Children {
		cc.children[i] = child.Open(parent)
	}
	ctx.SetAttribute("retry.composite", cc)
	return ctx
}

func (p *CompositeRetryPolicy) CanRetry(ctx *RetryContext) bool {
	cc := compositeOf(ctx)
	if cc == nil {
		return false
	}
	if p.Optimistic {
		for i, child := range p.Children {
			if child.CanRetry(cc.children[i]) {
				return true
			}
		}
		return len(p.Children) == 0
	}
	for i, child := range p.Children {
		if !child.CanRetry(cc.children[i]) {
			return false
		}
	}
	return true
}

func (p *CompositeRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) {
	ctx.registerThrowable(err)
	cc := compositeOf(ctx)
	if cc == nil {
		return
	}
	for i, child := range p.Children {
		child.RegisterThrowable(cc.children[i], err)
	}
}

func (p *CompositeRetryPolicy) Close(ctx *RetryContext) {
	cc := compositeOf(ctx)
	if cc == nil {
		return
	}
	for i, child := range p.Children {
		child.Close(cc.children[i])
	}
}

// MaxAttempts reports the aggregate bound across children when every
// child reports one: the minimum in pessimistic mode (the strictest
// child governs), the maximum in optimistic mode. It reports -1 when
// any child has no natural bound.
func (p *CompositeRetryPolicy) MaxAttempts() int {
	if len(p.Children) == 0 {
		return -1
	}
	best := -1
	for _, child := range p.Children {
		r, ok := child.(MaxAttemptsReporter)
		if !ok {
			return -1
		}
		n := r.MaxAttempts()
		if best == -1 {
			best = n
			continue
		}
		if p.Optimistic {
			if n > best {
				best = n
			}
		} else if n < best {
			best = n
		}
	}
	return best
}

func compositeOf(ctx *RetryContext) *compositeContext {
	v, ok := ctx.Attribute("retry.composite")
	if !ok {
		return nil
	}
	cc, _ := v.(*compositeContext)
	return cc
}

// SimpleRetryPolicy is the conjunction of a max-attempts bound and a
// classifier-gated decision. It additionally consults an optional
// not-recoverable classifier: a match sets AttrNoRecovery on the
// context, instructing the engine to stop retrying at once and to skip
// the recovery callback, even if attempts remain.
type SimpleRetryPolicy struct {
	composite      *CompositeRetryPolicy
	maxAttempts    int
	notRecoverable Classifier[bool]
}

// NewSimpleRetryPolicy builds a SimpleRetryPolicy. classifier decides
// which errors are retryable at all (nil retries everything);
// notRecoverable (optional, may be nil) decides which of those should
// still skip recovery once exhausted.
func NewSimpleRetryPolicy(maxAttempts int, classifier Classifier[bool], notRecoverable Classifier[bool]) *SimpleRetryPolicy {
	return &SimpleRetryPolicy{
		composite: NewCompositeRetryPolicy(false,
			NewMaxAttemptsRetryPolicy(maxAttempts),
			NewBinaryClassifierRetryPolicy(classifier),
		),
		maxAttempts:    maxAttempts,
		notRecoverable: notRecoverable,
	}
}

func (p *SimpleRetryPolicy) Open(parent *RetryContext) *RetryContext {
	return p.composite.Open(parent)
}

func (p *SimpleRetryPolicy) CanRetry(ctx *RetryContext) bool {
	return p.composite.CanRetry(ctx)
}

func (p *SimpleRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) {
	p.composite.RegisterThrowable(ctx, err)
	if err != nil && p.notRecoverable != nil && p.notRecoverable.Classify(err) {
		ctx.SetAttribute(AttrNoRecovery, true)
	}
}

func (p *SimpleRetryPolicy) Close(ctx *RetryContext) {
	p.composite.Close(ctx)
}

func (p *SimpleRetryPolicy) MaxAttempts() int { return p.maxAttempts }

// GatedRetryPolicy wraps another policy with an additional boolean
// gate evaluated against the last error. Gate is simply a Go
// predicate a caller supplies, whether hand-written or produced by
// evaluating some expression language elsewhere.
type GatedRetryPolicy struct {
	Inner RetryPolicy
	Gate  func(error) bool
}

// NewGatedRetryPolicy builds a GatedRetryPolicy wrapping inner with
// gate.
func NewGatedRetryPolicy(inner RetryPolicy, gate func(error) bool) *GatedRetryPolicy {
	return &GatedRetryPolicy{Inner: inner, Gate: gate}
}

func (p *GatedRetryPolicy) Open(parent *RetryContext) *RetryContext { return p.Inner.Open(parent) }

func (p *GatedRetryPolicy) CanRetry(ctx *RetryContext) bool {
	if !p.Inner.CanRetry(ctx) {
		return false
	}
	err := ctx.LastError()
	if err == nil || p.Gate == nil {
		return true
	}
	return p.Gate(err)
}

func (p *GatedRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) {
	p.Inner.RegisterThrowable(ctx, err)
}

func (p *GatedRetryPolicy) Close(ctx *RetryContext) { p.Inner.Close(ctx) }
