package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLogger_FormatRFC3339Millis(t *testing.T) {
	t.Parallel()
	ts := time.Date(2025, 3, 4, 5, 6, 7, 891_000_000, time.FixedZone("x", 3600))
	require.Equal(t, "2025-03-04T04:06:07.891Z", formatRFC3339Millis(ts))
}

func TestLogger_ShortAddress(t *testing.T) {
	t.Parallel()
	require.Equal(t, "0xAbCd...7890", ShortAddress("0xAbCdEf0000000000000000000000000000007890"))
	require.Equal(t, "0x12", ShortAddress("0x12"))
}

func TestLogger_NewWithWriter_DropsEmptyStrings(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false, true)
	log.Info("hello", "empty", "", "kept", "yes")
	out := buf.String()
	require.Contains(t, out, "hello")
	require.Contains(t, out, "kept=yes")
	require.NotContains(t, out, "empty=")
}

func TestLogger_NewWithWriter_Level(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewWithWriter(&buf, false, true).Debug("hidden")
	require.Empty(t, buf.String())
	NewWithWriter(&buf, true, true).Debug("shown")
	require.Contains(t, buf.String(), "shown")
}

func TestLogger_ForWallet(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := ForWallet(NewWithWriter(&buf, false, true), 7, "0xAbCdEf0000000000000000000000000000007890")
	log.Info("step")
	require.Contains(t, buf.String(), "account=7")
	require.Contains(t, buf.String(), "address=0xAbCd...7890")
}

func TestLogger_NewWithFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "run.log")
	log, closeFn, err := NewWithFile(path, false)
	require.NoError(t, err)
	log.With("account", 1).Info("written to file")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "written to file"))
	require.Contains(t, string(data), "account=1")
	require.NotContains(t, string(data), "\x1b[")
}
