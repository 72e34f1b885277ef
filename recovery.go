package retry

import (
	"context"
	"errors"
	"reflect"
)

// Recoverer is a typed recovery handler: it accepts errors assignable
// to (or found in the Unwrap chain of) In and runs against the
// operation's result type Out.
type Recoverer struct {
	in  reflect.Type
	out reflect.Type
	fn  reflect.Value
}

// NewRecoverer registers fn, a func(ctx context.Context, err E) (R,
// error) for some error type E and result type R, as a candidate
// recovery handler. It panics if fn is not of that shape, since a
// RecoveryDispatcher is normally built once at wire-up time from a
// fixed, known-good list.
func NewRecoverer(fn any) Recoverer {
	v := reflect.ValueOf(fn)
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumIn() != 2 || t.NumOut() != 2 {
		panic("retry: recoverer must be func(context.Context, E) (R, error)")
	}
	if t.In(0) != reflect.TypeOf((*context.Context)(nil)).Elem() {
		panic("retry: recoverer's first parameter must be context.Context")
	}
	errType := reflect.TypeOf((*error)(nil)).Elem()
	if !t.In(1).Implements(errType) && t.In(1).Kind() != reflect.Interface {
		panic("retry: recoverer's second parameter must be an error type")
	}
	if !t.Out(1).Implements(errType) {
		panic("retry: recoverer's second return value must be an error")
	}
	return Recoverer{in: t.In(1), out: t.Out(0), fn: v}
}

// RecoveryDispatcher selects among several typed Recoverers for the
// one that best matches a failure: of the handlers whose declared
// error type is assignable from the failure (walking its Unwrap chain
// when a direct match fails), the one whose declared type is closest
// to the failure's concrete type wins; ties are broken by
// registration order.
type RecoveryDispatcher struct {
	resultType reflect.Type
	handlers   []Recoverer
}

// NewRecoveryDispatcher builds a RecoveryDispatcher over handlers, all
// of which must share the same result type R.
func NewRecoveryDispatcher(handlers ...Recoverer) *RecoveryDispatcher {
	var resultType reflect.Type
	for _, h := range handlers {
		if resultType == nil {
			resultType = h.out
		} else if resultType != h.out {
			panic("retry: RecoveryDispatcher handlers must share one result type")
		}
	}
	return &RecoveryDispatcher{resultType: resultType, handlers: handlers}
}

// candidate pairs a matched handler with the chain entry its declared
// type matched, the distance (in Unwrap hops) at which it matched,
// and its declaration index, for the tie-break rules below.
type candidate struct {
	handler Recoverer
	match   error
	depth   int
	index   int
}

// Dispatch selects the best-matching handler for err and runs it,
// returning its (result, error) as any values. ok is false when no
// handler's declared type is assignable from err or any error in its
// Unwrap chain.
func (d *RecoveryDispatcher) Dispatch(ctx any, err error) (result any, handlerErr error, ok bool) {
	var best *candidate
	for i, h := range d.handlers {
		match, depth, ok := matchDepth(err, h.in)
		if !ok {
			continue
		}
		c := candidate{handler: h, match: match, depth: depth, index: i}
		if best == nil || better(c, *best) {
			cc := c
			best = &cc
		}
	}
	if best == nil {
		return nil, nil, false
	}
	out := best.handler.fn.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(best.match)})
	result = out[0].Interface()
	if e, _ := out[1].Interface().(error); e != nil {
		handlerErr = e
	}
	return result, handlerErr, true
}

// better reports whether a is a stronger match than b: a smaller
// Unwrap depth wins (the failure's own type over an ancestor's), and
// an earlier registration index wins a tie at equal depth.
func better(a, b candidate) bool {
	if a.depth != b.depth {
		return a.depth < b.depth
	}
	return a.index < b.index
}

// matchDepth walks err's Unwrap chain looking for the first error
// assignable to target, reporting the matched chain entry, how many
// Unwrap hops it took (0 for a direct match), and whether one was
// found at all. The matched entry, not the outermost error, is what a
// handler receives: its parameter type could not hold the wrapper.
func matchDepth(err error, target reflect.Type) (error, int, bool) {
	depth := 0
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		t := reflect.TypeOf(cur)
		if t != nil && (t.AssignableTo(target) || (target.Kind() == reflect.Interface && t.Implements(target))) {
			return cur, depth, true
		}
		depth++
	}
	return nil, 0, false
}
