package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteBlob places size bytes at the slash-separated key below root, the
// layout the filesystem blob backend uses. A size <= 0 writes one byte.
func WriteBlob(t testing.TB, root, key string, size int) string {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", key, err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte{'q'}, max(size, 1)), 0o644); err != nil {
		t.Fatalf("write %s: %v", key, err)
	}
	return path
}

// AssertFileContent fails the test unless path holds exactly want.
func AssertFileContent(t testing.TB, path, want string) {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if got := string(data); got != want {
		t.Fatalf("%s holds %q, want %q", filepath.Base(path), got, want)
	}
}
