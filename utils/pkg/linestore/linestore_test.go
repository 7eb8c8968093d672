package linestore

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLinestore_ReadMissingFile(t *testing.T) {
	t.Parallel()
	lines, err := New(filepath.Join(t.TempDir(), "missing.txt")).Read()
	require.NoError(t, err)
	require.Empty(t, lines)
}

func TestLinestore_Parse(t *testing.T) {
	t.Parallel()
	got, err := Parse([]byte("a\n\n  b  \r\n# comment\nc"))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestLinestore_OversizedLineFailsInsteadOfTruncating(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tokens.txt")
	content := "first\n" + strings.Repeat("x", maxLineSize+1) + "\nlast\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	f := New(path)
	_, err := f.Read()
	require.ErrorIs(t, err, bufio.ErrTooLong)

	require.Error(t, f.Append("new"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, content, string(data))
}

func TestLinestore_WriteReplacesContent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f := New(filepath.Join(dir, "nested", "tokens.txt"))

	require.NoError(t, f.Write([]string{"one", "two"}))
	require.NoError(t, f.Write([]string{"three"}))
	require.NoError(t, f.Append("four"))

	lines, err := f.Read()
	require.NoError(t, err)
	require.Equal(t, []string{"three", "four"}, lines)

	entries, err := os.ReadDir(filepath.Join(dir, "nested"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
}
