package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"Warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "json")

	logger.Debug("hidden")
	logger.Info("song streamed", "title", "A - B", "status", 206)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "song streamed", entry["msg"])
	assert.Equal(t, "A - B", entry["title"])
	assert.Equal(t, float64(206), entry["status"])
}

func TestNewText(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "debug", "text").Debug("queued", "keys", 2)
	assert.Contains(t, buf.String(), "msg=queued")
	assert.Contains(t, buf.String(), "keys=2")
}

func TestContext(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))

	logger := Discard().With("request_id", "r1")
	ctx := WithContext(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
}
