package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Logger = (*RunLogger)(nil)
	_ Logger = (*SlogAdapter)(nil)
	_ Logger = NoOpLogger{}
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   LogLevelDebug,
		"INFO":    LogLevelInfo,
		"":        LogLevelInfo,
		"warning": LogLevelWarn,
		"error":   LogLevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestRunLogger_KeyValueAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf}).
		WithComponent("agent").
		WithRun("sess-1", "run-1")

	l.Info("agent.run.start", "message_len", 5)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "agent.run.start", entry["msg"])
	assert.Equal(t, "agent", entry["component"])
	assert.Equal(t, "sess-1", entry["session_id"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.EqualValues(t, 5, entry["message_len"])
}

func TestRunLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelWarn, Format: "text", Output: &buf})

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
}

func TestRunLogger_DomainHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf})

	l.LogToolCall("lookup", 10*time.Millisecond, nil)
	l.LogModelCall("gpt", 12, time.Millisecond, errors.New("boom"))
	l.LogRun("COMPLETED", 2, time.Second, nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "tool.call.completed")
	assert.Contains(t, lines[1], "model.call.failed")
	assert.Contains(t, lines[1], "boom")
	assert.Contains(t, lines[2], "tool_batches=2")
}

func TestRunLogger_WithAttrDoesNotLeak(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger(&LoggerConfig{Level: LogLevelInfo, Format: "text", Output: &buf})
	_ = base.WithAttr("tenant", "a")

	base.Info("plain")
	assert.NotContains(t, buf.String(), "tenant")
}
