package testutils

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// TestHelper bundles a silent logger with a hook recording its entries.
type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger writes nowhere but keeps
// every entry down to debug level.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return &TestHelper{T: t, Logger: logger, Hook: hook}
}

// Messages returns the logged messages at or above level, oldest first.
func (h *TestHelper) Messages(level logrus.Level) []string {
	var out []string
	for _, e := range h.Hook.AllEntries() {
		if e.Level <= level {
			out = append(out, e.Message)
		}
	}
	return out
}

// Count returns how many entries carry msg.
func (h *TestHelper) Count(msg string) int {
	n := 0
	for _, e := range h.Hook.AllEntries() {
		if e.Message == msg {
			n++
		}
	}
	return n
}
