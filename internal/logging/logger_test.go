package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesDailyJSONFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	logger, err := New(context.Background(), dir, WithComponent("serve"), withClock(func() time.Time { return fixed }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })

	assert.Equal(t, filepath.Join(dir, "mascot-2026-03-14.log"), logger.Path())

	logger.Logger.Info("hello", "key", "value")

	data, err := os.ReadFile(logger.Path())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	record := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &record))
	assert.Equal(t, "hello", record["msg"])
	assert.Equal(t, "serve", record["component"])
	assert.Equal(t, "value", record["key"])
}

func TestNewRejectsEmptyDirectory(t *testing.T) {
	_, err := New(context.Background(), "  ")
	require.Error(t, err)
}

func TestWithTurnIDRebuildsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, WithLevel("debug"))

	logger.WithTurnID("turn-1").WithTraceID("trace-1")
	logger.Logger.Debug("turn started")

	record := map[string]any{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record))
	assert.Equal(t, "turn-1", record["turn_id"])
	assert.Equal(t, "trace-1", record["trace_id"])
	assert.NotContains(t, record, "span_id")
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriter(&buf, WithLevel("chatty"))

	logger.Logger.Debug("hidden")
	assert.Empty(t, buf.String())

	logger.Logger.Info("shown")
	assert.Contains(t, buf.String(), "shown")
}
