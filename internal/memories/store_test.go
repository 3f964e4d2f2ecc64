package memories

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOnMissingFileReturnsNoEntries(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "memories.log"), true, InjectAuto, 4096)
	entries, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if entries != nil {
		t.Errorf("expected nil entries, got %v", entries)
	}
}

func TestAppendThenLoadRoundTrips(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "memories.log"), true, InjectAuto, 4096)

	if err := s.Append("first entry"); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("second entry"); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(entries), entries)
	}
	if !strings.HasSuffix(entries[0], "first entry") {
		t.Errorf("expected entry to end with the recorded text, got %q", entries[0])
	}
	if !strings.HasSuffix(entries[1], "second entry") {
		t.Errorf("expected entry to end with the recorded text, got %q", entries[1])
	}
}

func TestLoadSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memories.log")
	s := New(path, true, InjectAuto, 4096)

	if err := s.Append("kept"); err != nil {
		t.Fatal(err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("\n   \n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	entries, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected blank lines to be skipped, got %v", entries)
	}
}
