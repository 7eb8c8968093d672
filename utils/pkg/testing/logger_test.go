package runtesting

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRuntesting_LevelFromEnv(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{in: "", want: slog.LevelError},
		{in: "2", want: slog.LevelDebug},
		{in: " Debug ", want: slog.LevelDebug},
		{in: "1", want: slog.LevelInfo},
		{in: "info", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "verbose", want: slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, levelFromEnv(tt.in))
		})
	}
}

type recordingTB struct {
	testing.TB
	lines []string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Log(args ...any) {
	r.lines = append(r.lines, args[0].(string))
}

func TestRuntesting_TestWriter(t *testing.T) {
	t.Parallel()
	rec := &recordingTB{TB: t}
	log := newLogger(&testWriter{t: rec}, slog.LevelInfo)

	log.Debug("hidden")
	log.Info("step done", "task", "faucet")

	require.Len(t, rec.lines, 1)
	require.Contains(t, rec.lines[0], "step done")
	require.Contains(t, rec.lines[0], "task=faucet")
	require.NotContains(t, rec.lines[0], "\n")
}
