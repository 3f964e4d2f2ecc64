// Package recovery implements the human-gated sentinel file that halts the
// iteration engine until an operator clears it.
package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SentinelFileName is the recovery queue's filename under the workspace
// root.
const SentinelFileName = "RECOVERY_QUEUE.md"

// Entry is a single blocked-task record appended to the recovery sentinel.
type Entry struct {
	Timestamp      time.Time
	TaskID         string
	FailureReason  string
	LastSnapshotID string
	RollbackHint   string
}

func (e Entry) render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", e.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Task: %s\n", e.TaskID)
	fmt.Fprintf(&b, "- Reason: %s\n", e.FailureReason)
	fmt.Fprintf(&b, "- Last snapshot: %s\n", e.LastSnapshotID)
	fmt.Fprintf(&b, "- Rollback hint: %s\n\n", e.RollbackHint)
	return b.String()
}

// Queue wraps the sentinel file at path.
type Queue struct {
	path string
}

// New returns a Queue backed by the sentinel file under workspaceDir.
func New(workspaceDir string) *Queue {
	return &Queue{path: filepath.Join(workspaceDir, SentinelFileName)}
}

// IsBlocked reports whether the sentinel file exists and is non-empty.
func (q *Queue) IsBlocked() (bool, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read recovery sentinel: %w", err)
	}
	return len(strings.TrimSpace(string(data))) > 0, nil
}

// Append records entry in the sentinel file, creating it if needed. The
// sentinel becoming non-empty is what halts the loop.
func (q *Queue) Append(entry Entry) error {
	f, err := os.OpenFile(q.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append recovery entry: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry.render()); err != nil {
		return fmt.Errorf("append recovery entry: %w", err)
	}
	return nil
}

// Clear empties the sentinel file. This is the documented human action that
// resumes a halted loop.
func (q *Queue) Clear() error {
	if err := os.WriteFile(q.path, nil, 0o644); err != nil {
		return fmt.Errorf("clear recovery sentinel: %w", err)
	}
	return nil
}
