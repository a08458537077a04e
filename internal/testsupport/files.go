package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"carousel/internal/task"
)

// WriteFile fills the target path with the requested number of bytes using a
// simple repeating pattern. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	const chunkSize = 32 * 1024
	buf := make([]byte, chunkSize)
	for i := range buf {
		buf[i] = 0x42
	}

	remaining := size
	for remaining > 0 {
		toWrite := int64(chunkSize)
		if remaining < toWrite {
			toWrite = remaining
		}
		if _, err := f.Write(buf[:toWrite]); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
		remaining -= toWrite
	}
}

// SourceFile writes a source image of the given size into dir and returns
// the matching task payload.
func SourceFile(t testing.TB, dir, name string, size int64) task.FilePayload {
	t.Helper()

	path := filepath.Join(dir, name)
	WriteFile(t, path, size)
	if size <= 0 {
		size = 1
	}
	return task.FilePayload{Name: name, Path: path, SizeBytes: size}
}
