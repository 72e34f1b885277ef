package retry

// ExceptionClassifierRetryPolicy selects a delegate RetryPolicy per
// the classification of the last registered error, holding a
// per-delegate context in the outer RetryContext's attribute bag.
// Different error classes can therefore warrant different attempt
// limits or classifiers without a caller having to hand-roll the
// dispatch.
type ExceptionClassifierRetryPolicy struct {
	Classifier Classifier[RetryPolicy]
}

// NewExceptionClassifierRetryPolicy builds an
// ExceptionClassifierRetryPolicy around classifier.
func NewExceptionClassifierRetryPolicy(classifier Classifier[RetryPolicy]) *ExceptionClassifierRetryPolicy {
	return &ExceptionClassifierRetryPolicy{Classifier: classifier}
}

type classifierPolicyContext struct {
	opened  map[RetryPolicy]*RetryContext
	current RetryPolicy
}

const attrClassifierPolicyContext = "retry.classifierPolicy"

func (p *ExceptionClassifierRetryPolicy) Open(parent *RetryContext) *RetryContext {
	ctx := newRetryContext(parent)
	ctx.SetAttribute(attrClassifierPolicyContext, &classifierPolicyContext{opened: make(map[RetryPolicy]*RetryContext)})
	return ctx
}

func classifierStateOf(ctx *RetryContext) *classifierPolicyContext {
	v, ok := ctx.Attribute(attrClassifierPolicyContext)
	if !ok {
		return nil
	}
	cc, _ := v.(*classifierPolicyContext)
	return cc
}

// CanRetry returns true when no error has yet been registered (no
// delegate has been selected), matching the first-attempt
// pre-condition; callers who probe CanRetry before the first attempt
// see "yes" even though no delegate exists yet. Once a delegate is
// selected, CanRetry forwards to it. If RegisterThrowable already
// failed to classify the last error (see below), CanRetry returns
// false: classification failure is an unrecoverable, unretryable
// condition.
func (p *ExceptionClassifierRetryPolicy) CanRetry(ctx *RetryContext) bool {
	cc := classifierStateOf(ctx)
	if cc == nil {
		return true
	}
	if ctx.BoolAttribute(AttrClassificationFailed) {
		return false
	}
	if cc.current == nil {
		return true
	}
	return cc.current.CanRetry(cc.opened[cc.current])
}

// RegisterThrowable classifies err to a delegate policy and forwards
// registration to it. An error that the classifier cannot resolve to
// any delegate, when no delegate was already selected by an earlier
// error in this execution, marks the context with
// AttrClassificationFailed; the engine checks this attribute and
// raises ErrClassificationFailure instead of continuing the attempt
// loop.
func (p *ExceptionClassifierRetryPolicy) RegisterThrowable(ctx *RetryContext, err error) {
	ctx.registerThrowable(err)
	if err == nil {
		return
	}
	cc := classifierStateOf(ctx)
	if cc == nil {
		return
	}
	var delegate RetryPolicy
	if p.Classifier != nil {
		delegate = p.Classifier.Classify(err)
	}
	if delegate == nil {
		if cc.current == nil {
			ctx.SetAttribute(AttrClassificationFailed, true)
		}
		return
	}
	cc.current = delegate
	delegateCtx, ok := cc.opened[delegate]
	if !ok {
		delegateCtx = delegate.Open(ctx.Parent())
		cc.opened[delegate] = delegateCtx
	}
	delegate.RegisterThrowable(delegateCtx, err)
}

// Close closes every delegate context that was actually opened.
func (p *ExceptionClassifierRetryPolicy) Close(ctx *RetryContext) {
	cc := classifierStateOf(ctx)
	if cc == nil {
		return
	}
	for delegate, delegateCtx := range cc.opened {
		delegate.Close(delegateCtx)
	}
}
