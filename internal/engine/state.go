package engine

import (
	"time"

	"github.com/ralphloop/ralph/internal/busproto"
)

// State is the per-run loop state: iteration counters, running totals, and
// the small set of flags the engine threads through every cycle.
type State struct {
	Iteration      int
	StartedAt      time.Time
	CumulativeCost float64

	ConsecutiveFailures  int
	ConsecutiveMalformed int

	ActivationCounts map[string]int
	ExhaustedHats    map[string]bool

	TaskBlockedCounts       map[string]int
	AbandonedTasks          map[string]bool
	AbandonedRedispatches   int

	LastHat          string
	LastSnapshotID   string
	IsHalted         bool
	LastCheckin      time.Time
	PendingOptions   *busproto.ProactiveOptions
	PendingGuidance  string

	Triage              *busproto.TriageDecision
	Strategy            *busproto.TestStrategy
	CompletionRequested bool
}

// NewState returns a zero-valued State with its maps initialized, ready for
// the first iteration of a run starting now.
func NewState() *State {
	return &State{
		StartedAt:         time.Now(),
		ActivationCounts:  make(map[string]int),
		ExhaustedHats:     make(map[string]bool),
		TaskBlockedCounts: make(map[string]int),
		AbandonedTasks:    make(map[string]bool),
	}
}

// RecordFailure increments the consecutive-failure counter.
func (s *State) RecordFailure() {
	s.ConsecutiveFailures++
}

// RecordSuccess resets the consecutive-failure counter.
func (s *State) RecordSuccess() {
	s.ConsecutiveFailures = 0
}

// RecordMalformed increments the consecutive-malformed-event counter.
func (s *State) RecordMalformed() {
	s.ConsecutiveMalformed++
}

// RecordWellFormed resets the consecutive-malformed-event counter; it is
// reset only when a well-formed line is parsed in the same ingest batch.
func (s *State) RecordWellFormed() {
	s.ConsecutiveMalformed = 0
}

// Activate increments a hat's activation count and returns the new total.
func (s *State) Activate(hatID string) int {
	s.ActivationCounts[hatID]++
	return s.ActivationCounts[hatID]
}

// Exhausted reports whether hatID has been marked exhausted this run.
func (s *State) Exhausted(hatID string) bool {
	return s.ExhaustedHats[hatID]
}

// MarkExhausted marks hatID exhausted, returning false if it already was
// (so callers emit the exhaustion event exactly once).
func (s *State) MarkExhausted(hatID string) bool {
	if s.ExhaustedHats[hatID] {
		return false
	}
	s.ExhaustedHats[hatID] = true
	return true
}

// BlockTask increments the blocked-count for taskID and reports whether the
// count has reached three (the thrashing threshold): true on the third and
// every later block of the task.
func (s *State) BlockTask(taskID string) (count int, thrashing bool) {
	s.TaskBlockedCounts[taskID]++
	count = s.TaskBlockedCounts[taskID]
	return count, count >= 3
}

// Abandon marks taskID abandoned (idempotent) and increments the redispatch
// counter, reporting whether it was already abandoned.
func (s *State) Abandon(taskID string) (alreadyAbandoned bool) {
	alreadyAbandoned = s.AbandonedTasks[taskID]
	s.AbandonedTasks[taskID] = true
	s.AbandonedRedispatches++
	return alreadyAbandoned
}
