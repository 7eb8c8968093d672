// Package linestore reads and rewrites flat record-per-line files.
//
// Rewrites go through a temp file in the same directory followed by a rename, so a
// crash mid-write leaves either the old or the new content on disk. The package does
// no locking of its own; callers serialize read-modify-write cycles.
package linestore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type File struct {
	path string
}

func New(path string) *File {
	return &File{path: path}
}

func (f *File) Path() string { return f.path }

// Read returns the trimmed, non-empty lines of the file, skipping lines starting
// with '#'. A missing file reads as empty.
func (f *File) Read() ([]string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	lines, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	return lines, nil
}

// Write replaces the file content with lines.
func (f *File) Write(lines []string) error {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	return AtomicWrite(f.path, buf.Bytes())
}

// Append adds one line to the end of the file.
func (f *File) Append(line string) error {
	lines, err := f.Read()
	if err != nil {
		return err
	}
	return f.Write(append(lines, line))
}

const maxLineSize = 1024 * 1024

// Parse splits data into records. It fails rather than returning a partial
// list, since callers write the result back over the file.
func Parse(data []byte) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func AtomicWrite(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".linestore-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
