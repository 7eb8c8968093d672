package runtesting

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/lmittmann/tint"
)

// LogLevelEnv selects how chatty test loggers are. It takes 1 or 2 (info or
// debug) or a level name; anything else keeps tests quiet below error.
const LogLevelEnv = "DEBUG"

// NewLogger returns a logger on stderr at the level named by LogLevelEnv.
func NewLogger() *slog.Logger {
	return newLogger(os.Stderr, levelFromEnv(os.Getenv(LogLevelEnv)))
}

// NewTestLogger logs through t.Log, so output lands next to the test that
// produced it and is only shown for failures or -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	return newLogger(&testWriter{t: t}, levelFromEnv(os.Getenv(LogLevelEnv)))
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		NoColor:    true,
		TimeFormat: "15:04:05.000",
	}))
}

func levelFromEnv(v string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "2", "debug":
		return slog.LevelDebug
	case "1", "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

type testWriter struct {
	t testing.TB
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
