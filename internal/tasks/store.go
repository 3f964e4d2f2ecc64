// Package tasks implements the file-backed ready/blocked task list consulted
// by the prompt composer. It is a concrete stand-in for the tasks subsystem
// spec.md treats as an external collaborator.
package tasks

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Task is a single unit of work tracked by the store.
type Task struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Priority int      `json:"priority"`
	Open     bool     `json:"open"`
	Blockers []string `json:"blockers,omitempty"`
}

// Store reads the task list persisted at path as a JSON array.
type Store struct {
	path    string
	Enabled bool
}

// New returns a Store backed by path.
func New(path string, enabled bool) *Store {
	return &Store{path: path, Enabled: enabled}
}

// Load reads every task from disk. A missing file yields no tasks.
func (s *Store) Load() ([]Task, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	var list []Task
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}
	return list, nil
}

// Ready returns open tasks with no outstanding blockers, ordered by
// descending priority then id for determinism.
func Ready(all []Task) []Task {
	var ready []Task
	for _, t := range all {
		if t.Open && len(t.Blockers) == 0 {
			ready = append(ready, t)
		}
	}
	sortByPriority(ready)
	return ready
}

// Blocked returns open tasks with outstanding blockers.
func Blocked(all []Task) []Task {
	var blocked []Task
	for _, t := range all {
		if t.Open && len(t.Blockers) > 0 {
			blocked = append(blocked, t)
		}
	}
	sortByPriority(blocked)
	return blocked
}

func sortByPriority(ts []Task) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].Priority != ts[j].Priority {
			return ts[i].Priority > ts[j].Priority
		}
		return ts[i].ID < ts[j].ID
	})
}
