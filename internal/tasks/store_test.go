package tasks

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOnMissingFileReturnsNoTasks(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "tasks.json"), true)
	list, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if list != nil {
		t.Errorf("expected nil task list, got %v", list)
	}
}

func TestLoadParsesJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	want := []Task{
		{ID: "T1", Title: "first", Priority: 1, Open: true},
		{ID: "T2", Title: "second", Priority: 2, Open: false},
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := New(path, true)
	got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got))
	}
}

func TestReadyExcludesBlockedAndClosedTasks(t *testing.T) {
	all := []Task{
		{ID: "T1", Open: true},
		{ID: "T2", Open: true, Blockers: []string{"T1"}},
		{ID: "T3", Open: false},
	}
	ready := Ready(all)
	if len(ready) != 1 || ready[0].ID != "T1" {
		t.Errorf("expected only T1 ready, got %v", ready)
	}
}

func TestBlockedReturnsOpenTasksWithBlockers(t *testing.T) {
	all := []Task{
		{ID: "T1", Open: true},
		{ID: "T2", Open: true, Blockers: []string{"T1"}},
		{ID: "T3", Open: false, Blockers: []string{"T1"}},
	}
	blocked := Blocked(all)
	if len(blocked) != 1 || blocked[0].ID != "T2" {
		t.Errorf("expected only T2 blocked, got %v", blocked)
	}
}

func TestReadyOrdersByDescendingPriorityThenID(t *testing.T) {
	all := []Task{
		{ID: "B", Open: true, Priority: 1},
		{ID: "A", Open: true, Priority: 1},
		{ID: "C", Open: true, Priority: 5},
	}
	ready := Ready(all)
	order := []string{ready[0].ID, ready[1].ID, ready[2].ID}
	want := []string{"C", "A", "B"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}
