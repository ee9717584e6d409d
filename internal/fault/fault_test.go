package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// GOAL: Verify fatal errors survive wrapping and are never double wrapped
//
// TEST SCENARIO: Wrap, re-wrap and fmt-wrap a stack error → IsFatal holds, cause reachable, op kept
func TestFatal(t *testing.T) {
	cause := errors.New("queue full")

	err := Fatal("enable notifications", cause)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, cause, "cause MUST stay reachable")
	assert.Equal(t, "fatal: enable notifications: queue full", err.Error())

	again := Fatal("dispatch", err)
	assert.Same(t, err, again, "fatal errors MUST NOT be wrapped twice")

	wrapped := fmt.Errorf("loop: %w", err)
	assert.True(t, IsFatal(wrapped))

	assert.NoError(t, Fatal("noop", nil))
	assert.False(t, IsFatal(cause))
	assert.False(t, IsFatal(nil))
}
