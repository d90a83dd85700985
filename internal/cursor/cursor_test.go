package cursor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMissingFileMeansBeginning(t *testing.T) {
	f := NewFile(t.TempDir(), "cursor.json")
	tok, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if tok != 0 {
		t.Errorf("missing cursor = %d, want 0", tok)
	}
}

func TestRoundTrip(t *testing.T) {
	f := NewFile(t.TempDir(), "cursor.json")
	if err := f.Store(42); err != nil {
		t.Fatal(err)
	}
	tok, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if tok != 42 {
		t.Errorf("got %d, want 42", tok)
	}

	if err := f.Reset(); err != nil {
		t.Fatal(err)
	}
	tok, _ = f.Load()
	if tok != 0 {
		t.Errorf("after reset got %d, want 0", tok)
	}
}

func TestCorruptFileDegradesToZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cursor.json")
	if err := os.WriteFile(path, []byte("{garbage"), 0o600); err != nil {
		t.Fatal(err)
	}
	f := NewFile(dir, "cursor.json")
	tok, err := f.Load()
	if err != nil {
		t.Fatal(err)
	}
	if tok != 0 {
		t.Errorf("corrupt cursor = %d, want 0", tok)
	}
}

func TestStoreLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(dir, "cursor.json")
	if err := f.Store(7); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "cursor.json" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}
