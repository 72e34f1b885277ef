package retry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/resilient-run/retry"
)

func TestRetryState(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s := retry.NewRetryState("order-1")
		assert.Equal(t, "order-1", s.Key())
		assert.False(t, s.IsForceRefresh())
		assert.True(t, s.RollsBack(errors.New("boom")))
		assert.False(t, s.RollsBack(nil))
	})

	t.Run("force refresh chains", func(t *testing.T) {
		s := retry.NewRetryState("k").WithForceRefresh(true)
		assert.True(t, s.IsForceRefresh())
	})

	t.Run("custom rollback classifier", func(t *testing.T) {
		fatal := errors.New("fatal")
		transient := errors.New("transient")
		classifier := retry.NewTypeClassifier(false, retry.WithTypeOf(fatal, true))

		s := retry.NewRetryState("k").WithRollbackClassifier(classifier)
		assert.True(t, s.RollsBack(fatal))
		assert.False(t, s.RollsBack(transient))
	})
}
