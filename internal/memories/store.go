// Package memories implements the file-backed persistent memory store
// consulted by the prompt composer. It is a concrete stand-in for the
// memories subsystem spec.md treats as an external collaborator.
package memories

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"
)

// InjectMode controls whether memories are loaded into every prompt or only
// on demand via a skill.
type InjectMode string

const (
	InjectAuto   InjectMode = "auto"
	InjectManual InjectMode = "manual"
)

// Store reads and appends memory entries at path, one per line.
type Store struct {
	path    string
	Enabled bool
	Inject  InjectMode
	Budget  int
}

// New returns a Store backed by path.
func New(path string, enabled bool, inject InjectMode, budget int) *Store {
	return &Store{path: path, Enabled: enabled, Inject: inject, Budget: budget}
}

// Load returns every persisted memory entry in file order (oldest first).
// A missing file yields no entries and no error.
func (s *Store) Load() ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load memories: %w", err)
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			entries = append(entries, line)
		}
	}
	return entries, scanner.Err()
}

// Append records a new memory entry with a timestamp prefix.
func (s *Store) Append(entry string) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%s %s\n", time.Now().UTC().Format(time.RFC3339), entry)
	return err
}
