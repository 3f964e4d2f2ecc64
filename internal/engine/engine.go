// Package engine implements the iteration engine: the single-threaded,
// cooperatively-scheduled cycle that ingests journal events, validates them
// against the active test strategy, routes them to hats, invokes the
// external agent, and decides when to stop.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ralphloop/ralph/internal/agentinvoke"
	"github.com/ralphloop/ralph/internal/audit"
	"github.com/ralphloop/ralph/internal/busproto"
	"github.com/ralphloop/ralph/internal/human"
	"github.com/ralphloop/ralph/internal/journal"
	"github.com/ralphloop/ralph/internal/prompt"
	"github.com/ralphloop/ralph/internal/recovery"
	"github.com/ralphloop/ralph/internal/snapshot"
	"github.com/ralphloop/ralph/internal/status"
)

// AgentInvoker is the subset of agentinvoke.Invoker the engine depends on,
// narrowed to an interface so tests can substitute a fake agent process.
type AgentInvoker interface {
	Invoke(ctx context.Context, prompt, completionPromise string, onOutput func(string)) (agentinvoke.Result, error)
}

// Config carries the engine's static, per-run configuration.
type Config struct {
	Objective         string
	StartingEvent     string
	CompletionPromise string
	CompletionTopic   string
	Persistent        bool
	CheckinInterval   time.Duration
	SoloMode          bool
}

// Engine wires every subsystem the iteration cycle touches.
type Engine struct {
	Config Config

	Bus       *busproto.Bus
	Journal   *journal.Reader
	Composer  *prompt.Composer
	Invoker   AgentInvoker
	Snapshot  *snapshot.Manager
	Recovery  *recovery.Queue
	Audit     *audit.Logger
	Status    *status.Manager
	Human     human.Adapter
	Term      Termination

	Logf func(format string, args ...any)

	State *State

	sawFirstSnapshot bool
}

// New returns an Engine ready to run. adapter may be nil (no human-interface
// transport registered).
func New(cfg Config, bus *busproto.Bus, jr *journal.Reader, composer *prompt.Composer, invoker AgentInvoker,
	snap *snapshot.Manager, rec *recovery.Queue, aud *audit.Logger, stat *status.Manager, adapter human.Adapter,
	term Termination, logf func(string, ...any)) *Engine {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Engine{
		Config:   cfg,
		Bus:      bus,
		Journal:  jr,
		Composer: composer,
		Invoker:  invoker,
		Snapshot: snap,
		Recovery: rec,
		Audit:    aud,
		Status:   stat,
		Human:    adapter,
		Term:     term,
		Logf:     logf,
		State:    NewState(),
	}
}

// Run drives iterations until termination, returning the final reason and
// its mapped exit code.
func (e *Engine) Run(ctx context.Context) (Reason, int, error) {
	for {
		reason, done, err := e.RunIteration(ctx)
		if err != nil {
			return ReasonNone, 1, err
		}
		if done {
			code := ExitCode(reason)
			e.terminate(reason, code)
			return reason, code, nil
		}
		select {
		case <-ctx.Done():
			reason := ReasonUserInterrupt
			code := ExitCode(reason)
			e.terminate(reason, code)
			return reason, code, nil
		default:
		}
	}
}

// terminate runs the fixed set of side effects every stopped loop owes,
// regardless of which check fired: an observer-only loop.terminate event (no
// hat may subscribe to or trigger on it), an audit note summarizing the final
// triage/strategy decision, and shutting down the human-interface adapter.
func (e *Engine) terminate(reason Reason, code int) {
	payload, err := json.Marshal(loopTerminatePayload{
		Reason:     string(reason),
		Iterations: e.State.Iteration,
		Duration:   time.Since(e.State.StartedAt).Seconds(),
		ExitCode:   code,
	})
	if err != nil {
		e.Logf("encode loop.terminate payload failed: %v", err)
		payload = []byte("{}")
	}
	e.Bus.NotifyObservers(busproto.New("loop.terminate", string(payload)))

	if e.Audit != nil {
		details := fmt.Sprintf("reason=%s iterations=%d; %s", reason, e.State.Iteration, e.terminationSummary())
		if err := e.Audit.Log(audit.LoopTerminated, "main", details); err != nil {
			e.Logf("audit log failed: %v", err)
		}
	}

	if e.Human != nil {
		e.Human.Stop()
	}
}

// loopTerminatePayload is the JSON shape carried on the loop.terminate event.
type loopTerminatePayload struct {
	Reason     string  `json:"reason"`
	Iterations int     `json:"iterations"`
	Duration   float64 `json:"duration_seconds"`
	ExitCode   int     `json:"exit_code"`
}

// terminationSummary renders the last known triage/strategy decision for the
// audit note, or a placeholder if the loop stopped before either landed.
func (e *Engine) terminationSummary() string {
	var parts []string
	if e.State.Triage != nil {
		parts = append(parts, fmt.Sprintf("triage=%s (%s)", e.State.Triage.Mode, e.State.Triage.Reason))
	}
	if e.State.Strategy != nil {
		parts = append(parts, fmt.Sprintf("strategy=%s (%s)", e.State.Strategy.Tier, e.State.Strategy.Reason))
	}
	if len(parts) == 0 {
		return "no triage/strategy decision recorded"
	}
	return strings.Join(parts, "; ")
}

// RunIteration executes one full cycle of the 14-step loop.
func (e *Engine) RunIteration(ctx context.Context) (Reason, bool, error) {
	if err := e.writeStatus(); err != nil {
		e.Logf("status write failed: %v", err)
	}

	// 1. Block on recovery.
	if err := e.blockOnRecovery(ctx); err != nil {
		return ReasonNone, false, err
	}

	// 2. Ingest.
	batch, err := e.Journal.ReadNew()
	if err != nil {
		return ReasonNone, false, fmt.Errorf("ingest journal: %w", err)
	}
	for _, m := range batch.Malformed {
		e.State.RecordMalformed()
		e.Bus.Publish(busproto.New("event.malformed", m.Raw))
	}
	if len(batch.Events) > 0 {
		e.State.RecordWellFormed()
	}

	// 3. Validate gated events, in order.
	validated := e.validateGated(batch.Events)

	if e.State.ConsecutiveMalformed >= 3 {
		return ReasonValidationFailure, true, nil
	}

	// 4. Thrashing detection.
	validated = e.detectThrashing(validated)
	if e.State.AbandonedRedispatches >= 3 {
		return ReasonThrashing, true, nil
	}

	// 4.5. Classify any new starting event before it is routed.
	validated = e.classifyNewTasks(validated)

	// 5. Route. Guidance is also persisted to the scratchpad and cached for
	// the next prompt.
	for _, ev := range validated {
		if ev.Topic == "human.guidance" && e.Composer != nil {
			if err := e.Composer.RecordGuidance(ev.Payload); err != nil {
				e.Logf("record guidance failed: %v", err)
			}
		}
		e.Bus.Publish(ev)
	}

	// 6. Handle human interaction.
	e.handleHumanInteraction(ctx, validated)

	// 7/8. Hat exhaustion, checked before selection: for every hat currently
	// holding pending events, not only the one about to be dispatched. In
	// multi-hat mode Ralph addresses every active hat's queue in the same
	// turn, so a specialist hat's own activation count must still be tracked
	// and enforced even though Ralph is the process actually invoked.
	activeBefore := e.Bus.HatIDs()
	for _, id := range activeBefore {
		hat, ok := e.Bus.Registry().Get(id)
		if !ok || hat.MaxActivations <= 0 || e.State.ActivationCounts[id] < hat.MaxActivations {
			continue
		}
		if e.State.MarkExhausted(id) {
			e.Bus.Publish(busproto.New(id+".exhausted", "activation limit reached"))
		}
		e.Bus.TakePending(id)
	}

	// 7. Select next hat.
	hatID, hasPending := e.selectNextHat()
	if !hasPending {
		e.injectStallRecovery()
		e.State.Iteration++
		if reason, done := e.Term.Check(e.State); done {
			return reason, true, nil
		}
		return ReasonNone, false, nil
	}

	hat, _ := e.Bus.Registry().Get(hatID)
	activeNow := e.Bus.HatIDs()
	events := e.Bus.TakePending(hatID)

	// 9. Compose prompt. Every hat still holding pending events this turn is
	// considered activated, since Ralph's coordinator prompt addresses all of
	// them together.
	promptText, err := e.composePrompt(hat, hatID, events)
	if err != nil {
		return ReasonNone, false, fmt.Errorf("compose prompt: %w", err)
	}
	for _, id := range activeNow {
		e.State.Activate(id)
	}

	// 10. Pre-invocation snapshot.
	if !e.sawFirstSnapshot && e.isStartingEvent(events) {
		if e.Snapshot != nil {
			id, err := e.Snapshot.Create(ctx, taskIDFromPayload(firstPayload(events)))
			if err != nil {
				e.Logf("snapshot failed: %v", err)
			} else {
				e.State.LastSnapshotID = id
			}
		}
		e.sawFirstSnapshot = true
	}

	// 11. Invoke agent. Journal events are counted before (already consumed in
	// step 2) and after the call to decide whether the hat published nothing.
	result, invokeErr := e.Invoker.Invoke(ctx, promptText, e.Config.CompletionPromise, nil)
	for _, ev := range result.InlineEvents {
		e.Bus.Publish(ev)
	}
	if result.CompletionPromised {
		e.State.CompletionRequested = true
	}

	postBatch, postErr := e.Journal.ReadNew()
	if postErr != nil {
		e.Logf("post-invocation journal read failed: %v", postErr)
	}
	for _, m := range postBatch.Malformed {
		e.State.RecordMalformed()
		e.Bus.Publish(busproto.New("event.malformed", m.Raw))
	}
	if len(postBatch.Events) > 0 {
		e.State.RecordWellFormed()
	}
	postValidated := e.classifyNewTasks(e.detectThrashing(e.validateGated(postBatch.Events)))
	for _, ev := range postValidated {
		if ev.Topic == "human.guidance" && e.Composer != nil {
			if err := e.Composer.RecordGuidance(ev.Payload); err != nil {
				e.Logf("record guidance failed: %v", err)
			}
		}
		e.Bus.Publish(ev)
	}

	// A silent turn (nothing published at all) nudges every hat addressed
	// this turn via its own default_publishes, since in multi-hat mode Ralph
	// is the process invoked but is expected to be acting on behalf of each
	// active hat's pending work.
	if len(result.InlineEvents) == 0 && len(postBatch.Events) == 0 {
		for _, id := range activeNow {
			activeHat, ok := e.Bus.Registry().Get(id)
			if ok && activeHat.DefaultPublishes != "" {
				e.Bus.Publish(busproto.New(activeHat.DefaultPublishes, "").WithSource(id))
			}
		}
	}

	// 12. Process output.
	e.State.Iteration++
	e.State.LastHat = hatID
	if invokeErr != nil {
		e.State.RecordFailure()
	} else {
		e.State.RecordSuccess()
	}

	// 13. Periodic check-in.
	e.maybeCheckin(ctx, hatID)

	// 14. Terminate?
	if e.State.CompletionRequested {
		if e.Config.Persistent {
			e.State.CompletionRequested = false
			e.Bus.Publish(busproto.New("task.resume", "completion suppressed: persistent mode"))
		} else {
			return ReasonCompletion, true, nil
		}
	}
	if reason, done := e.Term.Check(e.State); done {
		return reason, true, nil
	}
	return ReasonNone, false, nil
}

func (e *Engine) writeStatus() error {
	if e.Status == nil {
		return nil
	}
	blocked, _ := e.Recovery.IsBlocked()
	snap := status.Snapshot{
		Objective: e.Config.Objective,
		Health: status.Health{
			Iteration:      e.State.Iteration,
			ElapsedSeconds: time.Since(e.State.StartedAt).Seconds(),
			CumulativeCost: e.State.CumulativeCost,
		},
		Safety: status.Safety{
			LastSnapshotSHA:      e.State.LastSnapshotID,
			IsHalted:             e.State.IsHalted,
			RecoveryQueueBlocked: blocked,
		},
	}
	return e.Status.Write(snap)
}

func (e *Engine) blockOnRecovery(ctx context.Context) error {
	if e.Recovery == nil {
		return nil
	}
	blocked, err := e.Recovery.IsBlocked()
	if err != nil {
		return fmt.Errorf("check recovery queue: %w", err)
	}
	if !blocked {
		return nil
	}
	e.State.IsHalted = true
	if e.Audit != nil {
		_ = e.Audit.LogHalt("main", "recovery queue non-empty")
	}
	for {
		blocked, err := e.Recovery.IsBlocked()
		if err != nil {
			return fmt.Errorf("poll recovery queue: %w", err)
		}
		if !blocked {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	e.State.IsHalted = false
	if e.Audit != nil {
		_ = e.Audit.LogResume("main")
	}
	return nil
}

func firstPayload(events []busproto.Event) string {
	if len(events) == 0 {
		return ""
	}
	return events[0].Payload
}

func (e *Engine) isStartingEvent(events []busproto.Event) bool {
	starting := e.Config.StartingEvent
	if starting == "" {
		starting = "task.start"
	}
	for _, ev := range events {
		if ev.Topic == starting {
			return true
		}
	}
	return false
}
