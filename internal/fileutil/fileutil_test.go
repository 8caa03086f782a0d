package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	if err := WriteFileAtomic(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Fatalf("content mismatch: got %q", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("expected temp file to be gone, stat err=%v", err)
	}
}

func TestWriteFileAtomicMissingDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "state.json")
	if err := WriteFileAtomic(path, []byte("x"), 0o644); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "full.ivf")
	empty := filepath.Join(dir, "empty.ivf")
	if err := os.WriteFile(full, []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	if size, err := NonEmptyFile(full); err != nil || size != 4 {
		t.Fatalf("NonEmptyFile(full) = %d, %v", size, err)
	}
	if _, err := NonEmptyFile(empty); err == nil {
		t.Fatal("expected error for empty file")
	}
	if _, err := NonEmptyFile(dir); err == nil {
		t.Fatal("expected error for directory")
	}
	if _, err := NonEmptyFile(filepath.Join(dir, "nope")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "encode")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 10), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sub, "b"), make([]byte, 5), 0o644); err != nil {
		t.Fatal(err)
	}
	size, err := DirSize(dir)
	if err != nil || size != 15 {
		t.Fatalf("DirSize = %d, %v", size, err)
	}
	if size, err := DirSize(filepath.Join(dir, "missing")); err != nil || size != 0 {
		t.Fatalf("missing dir: %d, %v", size, err)
	}
}
