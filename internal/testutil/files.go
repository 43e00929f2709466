package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// WriteFile writes content to the joined path, creating parent directories.
func WriteFile(tb testing.TB, content string, parts ...string) string {
	tb.Helper()
	return write(tb, content, 0o644, parts...)
}

// WriteExecutable writes a shell script standing in for an external tool such
// as the slicer. body is prefixed with a /bin/sh shebang.
func WriteExecutable(tb testing.TB, body string, parts ...string) string {
	tb.Helper()
	return write(tb, "#!/bin/sh\n"+body, 0o755, parts...)
}

func write(tb testing.TB, content string, mode os.FileMode, parts ...string) string {
	tb.Helper()
	path := filepath.Join(parts...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		tb.Fatalf("create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		tb.Fatalf("write %s: %v", path, err)
	}
	return path
}
