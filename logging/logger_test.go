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
	_ Logger = NoOpLogger{}
	_ Logger = (*DialogueLogger)(nil)
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestDialogueLogger_ContextualAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelDebug, Format: "json", Output: &buf})

	scoped := logger.WithComponent("scheduler").WithDialogue("d-1").WithContext("policy", "pairwise")
	scoped.Info("Turn started", "round", 2)
	logger.Debug("unscoped")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "Turn started", lines[0]["msg"])
	assert.Equal(t, "scheduler", lines[0]["component"])
	assert.Equal(t, "d-1", lines[0]["dialogue_id"])
	assert.Equal(t, "pairwise", lines[0]["policy"])
	assert.Equal(t, float64(2), lines[0]["round"])
	assert.NotContains(t, lines[1], "component")
}

func TestDialogueLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&LoggerConfig{Level: LogLevelWarn, Output: &buf})

	logger.Info("dropped")
	logger.LogTurn(0, 1, "agent1", time.Second, true, nil)
	logger.LogAgentCall("agent1", 10, time.Second, false, errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "Agent call failed", lines[0]["msg"])
	assert.Equal(t, "boom", lines[0]["error"])
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]LogLevel{"debug": LogLevelDebug, "INFO": LogLevelInfo, "warning": LogLevelWarn, "error": LogLevelError, "": LogLevelInfo} {
		got, err := ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestOrNoop(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, OrNoop(nil))
	l := NewDiscardLogger()
	assert.Same(t, l, OrNoop(l))
}
