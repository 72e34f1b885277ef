package retry

// RetryState carries the per-invocation identity a stateful retry
// needs: an opaque key (typically derived from the operation's
// arguments), a hint that the item is known-new, and an optional
// classifier deciding whether a given error should cause the
// surrounding transaction to roll back.
type RetryState struct {
	key                any
	forceRefresh       bool
	rollbackClassifier Classifier[bool]
}

// NewRetryState builds a RetryState for key with no force-refresh and
// no rollback classifier (every error rolls back).
func NewRetryState(key any) *RetryState {
	return &RetryState{key: key}
}

// WithForceRefresh marks the state as belonging to a known-new item,
// instructing the engine to open a fresh context instead of reusing
// any cached one for this key.
func (s *RetryState) WithForceRefresh(forceRefresh bool) *RetryState {
	s.forceRefresh = forceRefresh
	return s
}

// WithRollbackClassifier attaches a classifier deciding, per error,
// whether the surrounding transaction should roll back.
func (s *RetryState) WithRollbackClassifier(c Classifier[bool]) *RetryState {
	s.rollbackClassifier = c
	return s
}

// Key returns the opaque state key.
func (s *RetryState) Key() any {
	return s.key
}

// IsForceRefresh reports whether the engine should bypass any cached
// context for this key and open a fresh one.
func (s *RetryState) IsForceRefresh() bool {
	return s.forceRefresh
}

// RollsBack reports whether err should cause the surrounding
// transaction to roll back. With no rollback classifier configured,
// every non-nil error rolls back.
func (s *RetryState) RollsBack(err error) bool {
	if s.rollbackClassifier == nil {
		return err != nil
	}
	return s.rollbackClassifier.Classify(err)
}
