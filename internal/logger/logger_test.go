package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"loud", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), tt.in)
	}
}

func TestNewProductionWritesJSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := Component(New(&buf, true, ""), "listener")
	l.Debug("hidden")
	l.Info("snapshot applied", "rows", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "snapshot applied", rec["msg"])
	assert.Equal(t, "listener", rec["component"])
	assert.EqualValues(t, 3, rec["rows"])
}

func TestNewDevelopmentDefaultsToDebug(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false, "").Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}
