package audit

import (
	"os"
	"strings"
	"testing"
)

func TestLogAppendsRowsNeverRewritingHeader(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	if err := l.Log(TriageDecision, "loop-1", "Simple: fix typo"); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(TEAStrategy, "loop-1", "Tier3"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)

	if strings.Count(content, tableHeader) != 1 {
		t.Error("header must appear exactly once even after multiple Log calls")
	}
	if !strings.Contains(content, "TRIAGE_DECISION") || !strings.Contains(content, "TEA_STRATEGY") {
		t.Errorf("expected both rows present, got:\n%s", content)
	}
}

func TestLogEscapesPipesAndNewlines(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	if err := l.Log(HumanDecision, "main", "choice: A | B\nextra line"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 { // header + separator + one row
		t.Fatalf("expected exactly one data row, got %d lines:\n%s", len(lines), data)
	}
}

func TestLogHaltAndResume(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	if err := l.LogHalt("loop-1", "backpressure failure"); err != nil {
		t.Fatal(err)
	}
	if err := l.LogResume("loop-1"); err != nil {
		t.Fatal(err)
	}

	data, _ := os.ReadFile(l.path)
	if !strings.Contains(string(data), "LOOP_HALTED") || !strings.Contains(string(data), "LOOP_RESUMED") {
		t.Errorf("expected both halt and resume rows, got:\n%s", data)
	}
}
