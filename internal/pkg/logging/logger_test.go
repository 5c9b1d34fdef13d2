package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "checkout.log")

	logger, err := NewLogger(Options{Service: "checkout", Env: "test", Level: "debug", File: path})
	require.NoError(t, err)

	System(logger).Info("boot")
	WithTrace(logger, "", "abc").Debug("partial")
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, `"msg":"boot"`)
	assert.Contains(t, out, `"service":"checkout"`)
	assert.Contains(t, out, `"trace_id":"system"`)
	assert.Contains(t, out, `"trace_id":"unknown"`)
	assert.Contains(t, out, `"span_id":"abc"`)
}

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := NewLogger(Options{Service: "checkout", Level: "loud"})
	assert.Error(t, err)
}
