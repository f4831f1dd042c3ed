package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "scheduler"))

	log.Warn("start failed", String("path", "/usr/bin/mpv"), Err(errors.New("boom")), Float64("volume", 0.5))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "start failed", rec["message"])
	assert.Equal(t, "scheduler", rec["comp"])
	assert.Equal(t, "/usr/bin/mpv", rec["path"])
	assert.Equal(t, "boom", rec["err"])
	assert.Equal(t, 0.5, rec["volume"])
	assert.Contains(t, rec["caller"], "logging_test.go:")
}

func TestWriterLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("hidden")
	assert.Zero(t, buf.Len())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelError))
}

func TestZeroLoggerIsNoop(t *testing.T) {
	var log Logger
	assert.True(t, log.IsZero())
	log.Error("nothing happens")
	assert.False(t, Nop().IsZero())
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "input %q", in)
	}
}

func TestTraceOnlyAtTraceLevel(t *testing.T) {
	var buf bytes.Buffer
	NewWriter(&buf, "debug").Trace("tick")
	assert.Zero(t, buf.Len())

	NewWriter(&buf, "trace").Trace("tick", Int("tasks", 2))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "trace", rec["level"])
	assert.Equal(t, 2.0, rec["tasks"])
}

func TestConsoleLoggerLevel(t *testing.T) {
	log := NewConsole("warn")
	assert.False(t, log.IsZero())
	assert.False(t, log.Enabled(LevelInfo))
	assert.True(t, log.Enabled(LevelWarn))
}
