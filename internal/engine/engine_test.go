package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ralphloop/ralph/internal/agentinvoke"
	"github.com/ralphloop/ralph/internal/audit"
	"github.com/ralphloop/ralph/internal/busproto"
	"github.com/ralphloop/ralph/internal/journal"
	"github.com/ralphloop/ralph/internal/prompt"
	"github.com/ralphloop/ralph/internal/recovery"
	"github.com/ralphloop/ralph/internal/snapshot"
	"github.com/ralphloop/ralph/internal/status"
)

// fakeInvoker returns a scripted sequence of results, one per call, and
// records every prompt it was handed.
type fakeInvoker struct {
	results []agentinvoke.Result
	errs    []error
	calls   int
	prompts []string
}

func (f *fakeInvoker) Invoke(ctx context.Context, p, completionPromise string, onOutput func(string)) (agentinvoke.Result, error) {
	f.prompts = append(f.prompts, p)
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		return agentinvoke.Result{}, nil
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return f.results[i], err
}

func newTestEngine(t *testing.T, invoker AgentInvoker) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()

	journalPath := filepath.Join(dir, "events.jsonl")
	if err := os.WriteFile(journalPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	jr := journal.NewReader(dir)
	jr.SetJournalPath(journalPath)

	registry := busproto.NewRegistry()
	bus := busproto.NewBus(registry)

	composer := prompt.NewComposer(nil, nil, nil, filepath.Join(dir, "scratchpad.md"), false)

	e := New(Config{
		StartingEvent:     "task.start",
		CompletionPromise: "RALPH_TASK_COMPLETE",
		CompletionTopic:   "loop.terminate",
	}, bus, jr, composer, invoker, snapshot.New(dir, "git"), recovery.New(dir), audit.New(dir), status.New(dir), nil, Termination{}, nil)
	return e, journalPath
}

func appendJournalLine(t *testing.T, path, topic, payload string) {
	t.Helper()
	data, err := json.Marshal(map[string]string{"topic": topic, "payload": payload})
	if err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		t.Fatal(err)
	}
}

// In true solo mode (no custom hats registered) Ralph is the unique pending
// hat, since it is the only hat in the registry and catches every topic via
// its wildcard fallback subscription.
func TestRunIterationSoloModeDispatchesToRalph(t *testing.T) {
	invoker := &fakeInvoker{results: []agentinvoke.Result{{Stdout: "ok"}}}
	e, journalPath := newTestEngine(t, invoker)

	appendJournalLine(t, journalPath, "task.start", "build the thing")

	reason, done, err := e.RunIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatalf("did not expect termination, got reason=%s", reason)
	}
	if invoker.calls != 1 {
		t.Fatalf("expected exactly one invocation, got %d", invoker.calls)
	}
	if e.State.Iteration != 1 {
		t.Errorf("expected iteration to advance to 1, got %d", e.State.Iteration)
	}
	if e.State.ActivationCounts[busproto.RalphHatID] != 1 {
		t.Errorf("expected ralph's activation count to be 1, got %d", e.State.ActivationCounts[busproto.RalphHatID])
	}
}

// When a custom hat exists, Ralph is always the hat actually invoked, but
// every hat still holding pending events this turn is considered active: a
// silent turn (the agent wrote nothing) triggers each active hat's own
// default_publishes.
func TestRunIterationSynthesizesDefaultPublishForEveryActiveHatOnSilentTurn(t *testing.T) {
	invoker := &fakeInvoker{results: []agentinvoke.Result{{Stdout: "did nothing notable"}}}
	e, journalPath := newTestEngine(t, invoker)

	e.Bus.Registry().Register(busproto.Hat{
		ID:               "builder",
		Subscriptions:    []string{"task.start"},
		DefaultPublishes: "builder.idle",
	})
	appendJournalLine(t, journalPath, "task.start", "build the thing")

	if _, _, err := e.RunIteration(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var found *busproto.Event
	for _, ev := range e.Bus.PeekPending(busproto.RalphHatID) {
		if ev.Topic == "builder.idle" {
			e := ev
			found = &e
		}
	}
	if found == nil {
		t.Fatal("expected a synthesized builder.idle event routed to ralph's fallback queue")
	}
	if found.Source != "builder" {
		t.Errorf("expected the synthesized event's source to be builder, got %q", found.Source)
	}
}

func TestRunIterationStallRecoveryWhenNothingPending(t *testing.T) {
	invoker := &fakeInvoker{}
	e, _ := newTestEngine(t, invoker)

	reason, done, err := e.RunIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatalf("did not expect termination, got %s", reason)
	}
	if invoker.calls != 0 {
		t.Fatalf("expected no agent invocation when nothing is pending, got %d", invoker.calls)
	}
	pending := e.Bus.PeekPending(busproto.RalphHatID)
	if len(pending) != 1 || pending[0].Topic != "task.resume" {
		t.Fatalf("expected a broadcast task.resume stall-recovery event, got %+v", pending)
	}
}

func TestRunIterationThrashingAfterThreeBlocksAbandonsAndTerminates(t *testing.T) {
	invoker := &fakeInvoker{}
	e, journalPath := newTestEngine(t, invoker)
	e.Bus.Registry().Register(busproto.Hat{ID: "builder", Subscriptions: []string{"build.blocked"}})

	// Three blocks of the same task abandon it once; the third abandoned task
	// terminates the loop with loop_thrashing.
	for _, task := range []string{"T1", "T2"} {
		for i := 1; i <= 3; i++ {
			appendJournalLine(t, journalPath, "build.blocked", task+"\nfailure")
			if _, done, err := e.RunIteration(context.Background()); err != nil || done {
				t.Fatalf("unexpected result on block %d of %s: done=%v err=%v", i, task, done, err)
			}
		}
	}
	if e.State.AbandonedRedispatches != 2 {
		t.Fatalf("expected one abandonment per task (2 so far), got %d", e.State.AbandonedRedispatches)
	}

	appendJournalLine(t, journalPath, "build.blocked", "T3\nfirst failure")
	appendJournalLine(t, journalPath, "build.blocked", "T3\nsecond failure")
	appendJournalLine(t, journalPath, "build.blocked", "T3\nthird failure")
	reason, done, err := e.RunIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done || reason != ReasonThrashing {
		t.Fatalf("expected loop_thrashing termination on the third abandoned task, got reason=%s done=%v", reason, done)
	}
	if e.State.AbandonedRedispatches != 3 {
		t.Errorf("expected 3 abandoned redispatches, got %d", e.State.AbandonedRedispatches)
	}
}

func TestRunIterationHatExhaustionDropsPendingAndMarksExhaustedOnce(t *testing.T) {
	invoker := &fakeInvoker{
		results: []agentinvoke.Result{{Stdout: "ok"}, {Stdout: "ok"}},
	}
	e, journalPath := newTestEngine(t, invoker)
	e.Bus.Registry().Register(busproto.Hat{ID: "builder", Subscriptions: []string{"task.start"}, MaxActivations: 1})

	appendJournalLine(t, journalPath, "task.start", "first")
	if _, _, err := e.RunIteration(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.State.ActivationCounts["builder"] != 1 {
		t.Fatalf("expected builder's activation count to be 1, got %d", e.State.ActivationCounts["builder"])
	}

	appendJournalLine(t, journalPath, "task.start", "second, should be dropped")
	if _, _, err := e.RunIteration(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !e.State.Exhausted("builder") {
		t.Error("expected builder to be marked exhausted")
	}
	if pending := e.Bus.PeekPending("builder"); len(pending) != 0 {
		t.Errorf("expected builder's pending queue to be dropped on exhaustion, got %+v", pending)
	}
	// The exhaustion event falls back to ralph, who takes it into the prompt
	// of the same turn.
	if len(invoker.prompts) != 2 || !strings.Contains(invoker.prompts[1], "Event: builder.exhausted") {
		t.Error("expected a builder.exhausted event routed to ralph and included in the second prompt")
	}
}

func TestRunIterationCompletionPromiseTerminates(t *testing.T) {
	invoker := &fakeInvoker{results: []agentinvoke.Result{{Stdout: "done", CompletionPromised: true}}}
	e, journalPath := newTestEngine(t, invoker)
	appendJournalLine(t, journalPath, "task.start", "finish this")

	reason, done, err := e.RunIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done || reason != ReasonCompletion {
		t.Fatalf("expected completion_promise termination, got reason=%s done=%v", reason, done)
	}
}

func TestRunIterationPersistentModeSuppressesCompletion(t *testing.T) {
	invoker := &fakeInvoker{results: []agentinvoke.Result{{Stdout: "done", CompletionPromised: true}}}
	e, journalPath := newTestEngine(t, invoker)
	e.Config.Persistent = true
	appendJournalLine(t, journalPath, "task.start", "finish this")

	reason, done, err := e.RunIteration(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if done {
		t.Fatalf("expected persistent mode to suppress termination, got reason=%s", reason)
	}
	if e.State.CompletionRequested {
		t.Error("expected completion_requested to be cleared after suppression")
	}
	pending := e.Bus.PeekPending(busproto.RalphHatID)
	found := false
	for _, ev := range pending {
		if ev.Topic == "task.resume" {
			found = true
		}
	}
	if !found {
		t.Error("expected a task.resume event broadcast after suppressing completion")
	}
}

func TestRunTerminatesOnMaxIterations(t *testing.T) {
	invoker := &fakeInvoker{
		results: []agentinvoke.Result{{Stdout: "ok"}, {Stdout: "ok"}, {Stdout: "ok"}},
	}
	e, journalPath := newTestEngine(t, invoker)
	e.Term = Termination{Limits: Limits{MaxIterations: 2}}
	appendJournalLine(t, journalPath, "task.start", "go")

	reason, code, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reason != ReasonMaxIterations {
		t.Fatalf("expected max_iterations, got %s", reason)
	}
	if code != 2 {
		t.Errorf("expected exit code 2, got %d", code)
	}
}
