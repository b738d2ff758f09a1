package logging_test

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/programme-lv/ancm/internal/logging"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logging.ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logging.ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, logging.ParseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, logging.ParseLevel("nonsense"))
}

func TestNewWritesWithoutColorToBuffers(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.New(&buf, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("application started", "pid", 42)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "application started")
	assert.Contains(t, out, "pid=42")
	assert.NotContains(t, out, "\x1b[")
}
