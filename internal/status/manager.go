// Package status writes the machine- and human-readable mission-control
// snapshots the iteration engine refreshes at the top of every cycle.
package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralphloop/ralph/internal/busproto"
)

const (
	// JSONFileName is the machine-readable status filename.
	JSONFileName = ".captain-status.json"
	// MarkdownFileName is the human-readable status filename.
	MarkdownFileName = ".captain-status.md"
)

// ActiveTask describes the task currently in flight, if any.
type ActiveTask struct {
	ID       string      `json:"id"`
	Title    string      `json:"title"`
	Hat      string      `json:"hat"`
	RiskTier busproto.Tier `json:"risk_tier"`
}

// Health carries loop progress counters.
type Health struct {
	Iteration      int     `json:"iteration"`
	MaxIterations  int     `json:"max_iterations"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	CumulativeCost float64 `json:"cumulative_cost"`
}

// Safety carries the current safety-net state.
type Safety struct {
	LastSnapshotSHA      string `json:"last_snapshot_sha"`
	IsHalted             bool   `json:"is_halted"`
	RecoveryQueueBlocked bool   `json:"recovery_queue_blocked"`
}

// Snapshot is the full mission-control status written each iteration.
type Snapshot struct {
	Objective  string      `json:"objective"`
	ActiveTask *ActiveTask `json:"active_task,omitempty"`
	Health     Health      `json:"health"`
	Safety     Safety      `json:"safety"`
}

// Manager writes the status snapshot to its two sibling files.
type Manager struct {
	jsonPath string
	mdPath   string
}

// New returns a Manager rooted at workspaceDir.
func New(workspaceDir string) *Manager {
	return &Manager{
		jsonPath: filepath.Join(workspaceDir, JSONFileName),
		mdPath:   filepath.Join(workspaceDir, MarkdownFileName),
	}
}

// Write overwrites both status files atomically (write-temp-then-rename) so
// a reader never observes a half-written snapshot.
func (m *Manager) Write(s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := atomicWrite(m.jsonPath, data); err != nil {
		return fmt.Errorf("write status json: %w", err)
	}
	if err := atomicWrite(m.mdPath, []byte(renderMarkdown(s))); err != nil {
		return fmt.Errorf("write status markdown: %w", err)
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func renderMarkdown(s Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Mission Control\n\n")
	fmt.Fprintf(&b, "**Objective:** %s\n\n", s.Objective)

	if s.ActiveTask != nil {
		fmt.Fprintf(&b, "## Active Task\n\n")
		fmt.Fprintf(&b, "- ID: %s\n", s.ActiveTask.ID)
		fmt.Fprintf(&b, "- Title: %s\n", s.ActiveTask.Title)
		fmt.Fprintf(&b, "- Hat: %s\n", s.ActiveTask.Hat)
		fmt.Fprintf(&b, "- Risk tier: %s\n\n", s.ActiveTask.RiskTier)
	}

	fmt.Fprintf(&b, "## Health\n\n")
	fmt.Fprintf(&b, "- Iteration: %d / %d\n", s.Health.Iteration, s.Health.MaxIterations)
	fmt.Fprintf(&b, "- Elapsed: %.0fs\n", s.Health.ElapsedSeconds)
	fmt.Fprintf(&b, "- Cumulative cost: $%.4f\n\n", s.Health.CumulativeCost)

	fmt.Fprintf(&b, "## Safety\n\n")
	halted := "🟢 running"
	if s.Safety.IsHalted {
		halted = "🔴 halted"
	}
	fmt.Fprintf(&b, "- Status: %s\n", halted)
	fmt.Fprintf(&b, "- Last snapshot: %s\n", s.Safety.LastSnapshotSHA)
	fmt.Fprintf(&b, "- Recovery queue blocked: %v\n", s.Safety.RecoveryQueueBlocked)
	fmt.Fprintf(&b, "\n_updated %s_\n", time.Now().UTC().Format(time.RFC3339))
	return b.String()
}
