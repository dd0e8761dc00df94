package testutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	Hook   *test.Hook
}

// NewTestHelper creates a test helper whose logger records every entry.
func NewTestHelper(t *testing.T) *TestHelper {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
		Hook:   hook,
	}
}

// Entries returns the recorded log entries at the given level
func (h *TestHelper) Entries(level logrus.Level) []logrus.Entry {
	var out []logrus.Entry
	for _, e := range h.Hook.AllEntries() {
		if e.Level == level {
			out = append(out, *e)
		}
	}
	return out
}

// HasEntry reports whether an entry with the given level and message was logged
func (h *TestHelper) HasEntry(level logrus.Level, msg string) bool {
	for _, e := range h.Entries(level) {
		if e.Message == msg {
			return true
		}
	}
	return false
}

// TempFile writes content into a file inside a per-test directory and
// returns its path.
func (h *TestHelper) TempFile(name, content string) string {
	path := filepath.Join(h.T.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		h.T.Fatalf("failed to write %s: %v", path, err)
	}
	return path
}
