package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRenamesErrorKey(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Options{Level: slog.LevelDebug, Output: &buf})
	logger.Error("boom", "error", errors.New("bad"))

	require.Contains(t, buf.String(), "err=bad")
	require.NotContains(t, buf.String(), "error=")
}

func TestNewJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger := New(Options{Level: slog.LevelInfo, Format: "JSON", Output: &buf})
	logger.Debug("hidden")
	logger.Info("shown", "node", "fix")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "shown", rec["msg"])
	require.Equal(t, "fix", rec["node"])
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
		err  bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	require.Equal(t, slog.Default(), FromContext(context.Background()))

	logger := NewNop()
	ctx := WithLogger(context.Background(), logger)
	require.Same(t, logger, FromContext(ctx))
}
