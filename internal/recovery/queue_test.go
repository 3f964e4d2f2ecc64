package recovery

import (
	"testing"
	"time"
)

func TestQueueStartsUnblocked(t *testing.T) {
	q := New(t.TempDir())
	blocked, err := q.IsBlocked()
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("a queue with no sentinel file should not be blocked")
	}
}

func TestAppendBlocksAndClearResumes(t *testing.T) {
	q := New(t.TempDir())

	if err := q.Append(Entry{
		Timestamp:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		TaskID:         "T1",
		FailureReason:  "lint failed",
		LastSnapshotID: "abc123",
		RollbackHint:   "git reset --hard abc123",
	}); err != nil {
		t.Fatal(err)
	}

	blocked, err := q.IsBlocked()
	if err != nil {
		t.Fatal(err)
	}
	if !blocked {
		t.Fatal("appending a non-empty entry should block the queue")
	}

	if err := q.Clear(); err != nil {
		t.Fatal(err)
	}
	blocked, err = q.IsBlocked()
	if err != nil {
		t.Fatal(err)
	}
	if blocked {
		t.Error("clearing the sentinel should resume the loop")
	}
}
