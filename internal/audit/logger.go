// Package audit implements the tamper-evident, append-only forensic log of
// halts, triage decisions, strategies, and human decisions.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// LogFileName is the audit log's filename under the workspace root.
const LogFileName = "RequestLog.md"

// Kind is the event kind recorded in a single audit row.
type Kind string

const (
	TriageDecision Kind = "TRIAGE_DECISION"
	TEAStrategy    Kind = "TEA_STRATEGY"
	LoopHalted     Kind = "LOOP_HALTED"
	LoopResumed    Kind = "LOOP_RESUMED"
	LoopTerminated Kind = "LOOP_TERMINATED"
	HumanDecision  Kind = "HUMAN_DECISION"
)

const tableHeader = "| Timestamp | Kind | Correlation ID | Details |\n|---|---|---|---|\n"

// Logger appends rows to the audit log. Rows are never rewritten.
type Logger struct {
	path string
}

// New returns a Logger backed by the audit log under workspaceDir.
func New(workspaceDir string) *Logger {
	return &Logger{path: filepath.Join(workspaceDir, LogFileName)}
}

func (l *Logger) ensureHeader() error {
	if _, err := os.Stat(l.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(l.path, []byte(tableHeader), 0o644)
}

// Log appends a single row for kind/correlationID/details.
func (l *Logger) Log(kind Kind, correlationID, details string) error {
	if err := l.ensureHeader(); err != nil {
		return fmt.Errorf("audit log header: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	defer f.Close()
	row := fmt.Sprintf("| %s | %s | %s | %s |\n",
		time.Now().UTC().Format(time.RFC3339), kind, correlationID, escapeCell(details))
	if _, err := f.WriteString(row); err != nil {
		return fmt.Errorf("append audit row: %w", err)
	}
	return nil
}

// LogHalt records a LOOP_HALTED row.
func (l *Logger) LogHalt(correlationID, reason string) error {
	return l.Log(LoopHalted, correlationID, reason)
}

// LogResume records a LOOP_RESUMED row.
func (l *Logger) LogResume(correlationID string) error {
	return l.Log(LoopResumed, correlationID, "recovery queue cleared")
}

func escapeCell(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '|':
			out = append(out, '\\', '|')
		case '\n':
			out = append(out, ' ')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
