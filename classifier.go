package retry

import (
	"errors"
	"reflect"
	"sync"
)

// Classifier maps an error to a value of type C, typically to decide
// whether (or how) the error should be retried.
//
// Implementations must be safe for concurrent Classify calls.
type Classifier[C any] interface {
	Classify(err error) C
}

// typeRule pairs a predicate with the value to report when it
// matches. Rules are probed in registration order.
type typeRule[C any] struct {
	match func(error) bool
	value C
}

// sentinelEntry pairs a sentinel error value (one whose concrete type
// cannot distinguish it, such as an errors.New value) with the value
// to report when errors.Is matches it.
type sentinelEntry[C any] struct {
	sample error
	value  C
}

// sentinelType is the concrete type of every errors.New value. Samples
// of this type are indistinguishable by type alone and are matched by
// errors.Is identity instead.
var sentinelType = reflect.TypeOf(errors.New(""))

// TypeClassifier is the default Classifier implementation: an
// exact-type map with a default value, plus errors.Is identity
// matching for sentinel samples, falling back to an Unwrap-chain walk
// and then an ordered predicate list. Unwrap-chain type resolutions
// are memoized by the error's concrete type; identity and predicate
// matches depend on the error value, not just its type, and are never
// cached.
//
// Memoization is the performance-critical path and must remain
// correct under concurrent use; it is guarded by a RWMutex rather
// than a lock-free map because classification is expected to be
// dominated by repeat types, not by contention.
type TypeClassifier[C any] struct {
	byType    map[reflect.Type]C
	sentinels []sentinelEntry[C]
	rules     []typeRule[C]
	def       C
	memoMu    sync.RWMutex
	memo      map[reflect.Type]C
}

// ClassifierOption configures a TypeClassifier under construction.
type ClassifierOption[C any] func(*TypeClassifier[C])

// WithTypeOf registers a classification for errors matching sample.
// A sample with a distinct concrete type matches any error of that
// type (directly or anywhere in its Unwrap chain); a sentinel sample
// created by errors.New matches by errors.Is identity instead, since
// every such value shares one concrete type.
func WithTypeOf[C any](sample error, value C) ClassifierOption[C] {
	return func(c *TypeClassifier[C]) {
		t := reflect.TypeOf(sample)
		if t == sentinelType {
			c.sentinels = append(c.sentinels, sentinelEntry[C]{sample: sample, value: value})
			return
		}
		c.byType[t] = value
	}
}

// WithRule registers a value for the first error for which match
// returns true. Rules are probed in the order they are registered,
// after exact-type, identity, and Unwrap-chain lookups fail.
func WithRule[C any](match func(error) bool, value C) ClassifierOption[C] {
	return func(c *TypeClassifier[C]) {
		c.rules = append(c.rules, typeRule[C]{match: match, value: value})
	}
}

// NewTypeClassifier builds a TypeClassifier with the given default
// value and options.
func NewTypeClassifier[C any](def C, opts ...ClassifierOption[C]) *TypeClassifier[C] {
	c := &TypeClassifier[C]{
		byType: make(map[reflect.Type]C),
		def:    def,
		memo:   make(map[reflect.Type]C),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify resolves err to a value of type C: exact type match, then
// sentinel identity, then memo, then Unwrap-chain walk, then ordered
// predicate rules, then default.
func (c *TypeClassifier[C]) Classify(err error) C {
	if err == nil {
		return c.def
	}
	t := reflect.TypeOf(err)

	if v, ok := c.byType[t]; ok {
		return v
	}
	for _, s := range c.sentinels {
		if errors.Is(err, s.sample) {
			return s.value
		}
	}

	if len(c.byType) > 0 {
		c.memoMu.RLock()
		v, ok := c.memo[t]
		c.memoMu.RUnlock()
		if ok {
			return v
		}
		if v, ok := c.chainLookup(err); ok {
			c.memoMu.Lock()
			c.memo[t] = v
			c.memoMu.Unlock()
			return v
		}
	}

	for _, r := range c.rules {
		if r.match(err) {
			return r.value
		}
	}
	return c.def
}

// chainLookup walks err's Unwrap chain against the exact-type map,
// reporting the first hit.
func (c *TypeClassifier[C]) chainLookup(err error) (C, bool) {
	for cur := errors.Unwrap(err); cur != nil; cur = errors.Unwrap(cur) {
		if v, ok := c.byType[reflect.TypeOf(cur)]; ok {
			return v, true
		}
	}
	var zero C
	return zero, false
}

// BinaryClassifier is a Classifier[bool] with an optional cause-chain
// traversal mode: when the direct classification equals the
// configured default, it walks the Unwrap chain looking for a
// non-default match before giving up.
type BinaryClassifier struct {
	inner    *TypeClassifier[bool]
	def      bool
	traverse bool
}

// BinaryClassifierOption configures a BinaryClassifier.
type BinaryClassifierOption func(*binaryConfig)

type binaryConfig struct {
	whitelist []error
	blacklist []error
	rules     []typeRule[bool]
	traverse  bool
}

// Whitelist configures the classifier so that only errors matching
// one of samples classify as true; everything else is false. Mixing
// Whitelist and Blacklist on the same builder call is rejected by
// NewBinaryClassifier.
func Whitelist(samples ...error) BinaryClassifierOption {
	return func(cfg *binaryConfig) {
		cfg.whitelist = append(cfg.whitelist, samples...)
	}
}

// Blacklist configures the classifier so that every error classifies
// as true except those matching one of samples.
func Blacklist(samples ...error) BinaryClassifierOption {
	return func(cfg *binaryConfig) {
		cfg.blacklist = append(cfg.blacklist, samples...)
	}
}

// WithBinaryRule registers an additional predicate-driven rule,
// usable alongside a whitelist or blacklist for cases a concrete
// sample can't express.
func WithBinaryRule(match func(error) bool, value bool) BinaryClassifierOption {
	return func(cfg *binaryConfig) {
		cfg.rules = append(cfg.rules, typeRule[bool]{match: match, value: value})
	}
}

// WithCauseTraversal enables walking the Unwrap chain when the direct
// classification of an error equals the configured default, returning
// the first non-default ancestor classification instead.
func WithCauseTraversal() BinaryClassifierOption {
	return func(cfg *binaryConfig) {
		cfg.traverse = true
	}
}

// NewBinaryClassifier builds a BinaryClassifier. It panics if both
// Whitelist and Blacklist entries are supplied, since the two modes
// assign opposite defaults and cannot be combined.
func NewBinaryClassifier(opts ...BinaryClassifierOption) *BinaryClassifier {
	cfg := &binaryConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.whitelist) > 0 && len(cfg.blacklist) > 0 {
		panic("retry: BinaryClassifier cannot mix Whitelist and Blacklist")
	}

	def := false
	listed := cfg.whitelist
	listedValue := true
	if len(cfg.blacklist) > 0 {
		def = true
		listed = cfg.blacklist
		listedValue = false
	}

	classifierOpts := make([]ClassifierOption[bool], 0, len(listed)+len(cfg.rules))
	for _, sample := range listed {
		classifierOpts = append(classifierOpts, WithTypeOf(sample, listedValue))
	}
	for _, r := range cfg.rules {
		classifierOpts = append(classifierOpts, WithRule(r.match, r.value))
	}

	return &BinaryClassifier{
		inner:    NewTypeClassifier(def, classifierOpts...),
		def:      def,
		traverse: cfg.traverse,
	}
}

// Classify implements Classifier[bool], applying cause-chain
// traversal when enabled and the direct result equals the default.
func (b *BinaryClassifier) Classify(err error) bool {
	direct := b.inner.Classify(err)
	if !b.traverse || direct != b.def {
		return direct
	}
	for cur := errors.Unwrap(err); cur != nil; cur = errors.Unwrap(cur) {
		v := b.inner.Classify(cur)
		if v != b.def {
			return v
		}
	}
	return b.def
}
