// Package journal tails the append-only JSONL event journal. A marker file
// holds the path of the journal currently in use, which lets a fresh run
// isolate its own journal without the reader needing any other state beyond
// a byte offset into that file.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ralphloop/ralph/internal/busproto"
)

// MarkerFileName is the path, relative to the workspace root, of the file
// that points at the current journal.
const MarkerFileName = ".ralph/current-events"

// line is the on-disk JSONL envelope shape.
type line struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
	Source  string `json:"source,omitempty"`
	Target  string `json:"target,omitempty"`
}

// Malformed describes a journal line that failed to parse as an event.
type Malformed struct {
	Raw string
	Err error
}

// Batch is the result of a single incremental read of the journal.
type Batch struct {
	Events    []busproto.Event
	Malformed []Malformed
}

// Reader incrementally tails the journal identified by the marker file under
// workspaceDir. It is stateless beyond a byte offset, so replay after a
// crash is simply "read from offset zero again" — the journal is append-only
// and the offset is the only state that needs to survive a restart.
type Reader struct {
	workspaceDir string
	offset       int64
	journalPath  string
}

// NewReader returns a reader rooted at workspaceDir.
func NewReader(workspaceDir string) *Reader {
	return &Reader{workspaceDir: workspaceDir}
}

// ResolveJournalPath reads the marker file and returns the absolute path of
// the journal it names, caching the result for subsequent calls.
func (r *Reader) ResolveJournalPath() (string, error) {
	if r.journalPath != "" {
		return r.journalPath, nil
	}
	markerPath := filepath.Join(r.workspaceDir, MarkerFileName)
	data, err := os.ReadFile(markerPath)
	if err != nil {
		return "", fmt.Errorf("resolve journal marker: %w", err)
	}
	rel := strings.TrimSpace(string(data))
	if rel == "" {
		return "", fmt.Errorf("resolve journal marker: %s is empty", markerPath)
	}
	r.journalPath = filepath.Join(r.workspaceDir, rel)
	return r.journalPath, nil
}

// SetJournalPath overrides the resolved journal path directly, bypassing the
// marker file. Primarily useful in tests.
func (r *Reader) SetJournalPath(path string) {
	r.journalPath = path
}

// ReadNew reads and parses every line appended to the journal since the last
// call, advancing the tracked offset. A journal that does not exist yet
// yields an empty batch and no error.
func (r *Reader) ReadNew() (Batch, error) {
	path, err := r.ResolveJournalPath()
	if err != nil {
		return Batch{}, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Batch{}, nil
		}
		return Batch{}, fmt.Errorf("open journal %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(r.offset, 0); err != nil {
		return Batch{}, fmt.Errorf("seek journal %s: %w", path, err)
	}

	// A trailing line with no newline yet is a write in progress; leave it
	// unconsumed so the next ReadNew picks it up once it is complete. This
	// mirrors the teacher's manual buffered line-splitting rather than
	// bufio.Scanner, which would otherwise hand back a partial final line.
	reader := bufio.NewReaderSize(f, 64*1024)
	var batch Batch
	var consumed int64
	for {
		raw, err := reader.ReadBytes('\n')
		if len(raw) == 0 && err != nil {
			break
		}
		if err != nil {
			// No trailing newline: incomplete line, stop without consuming it.
			break
		}
		consumed += int64(len(raw))
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			continue
		}
		var l line
		if jsonErr := json.Unmarshal(trimmed, &l); jsonErr != nil || l.Topic == "" {
			batch.Malformed = append(batch.Malformed, Malformed{Raw: string(trimmed), Err: jsonErr})
			continue
		}
		batch.Events = append(batch.Events, busproto.Event{
			Topic:   l.Topic,
			Payload: l.Payload,
			Source:  l.Source,
			Target:  l.Target,
		})
	}

	r.offset += consumed
	return batch, nil
}
