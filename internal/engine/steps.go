package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ralphloop/ralph/internal/audit"
	"github.com/ralphloop/ralph/internal/busproto"
	"github.com/ralphloop/ralph/internal/human"
	"github.com/ralphloop/ralph/internal/prompt"
	"github.com/ralphloop/ralph/internal/recovery"
	"github.com/ralphloop/ralph/internal/strategy"
	"github.com/ralphloop/ralph/internal/tasks"
	"github.com/ralphloop/ralph/internal/triage"
)

// validateGated applies the gated-event validation rules, in journal order,
// synthesizing blocking events and recovery entries as needed.
func (e *Engine) validateGated(events []busproto.Event) []busproto.Event {
	completionTopic := e.Config.CompletionTopic
	out := make([]busproto.Event, 0, len(events))

	for i, ev := range events {
		switch {
		case completionTopic != "" && ev.Topic == completionTopic:
			if i == len(events)-1 {
				e.State.CompletionRequested = true
			}
			// Dropped either way: accepted sets completion_requested above;
			// an earlier-in-batch occurrence is simply ignored.
		case ev.Topic == "build.done":
			taskID := taskIDFromPayload(ev.Payload)
			reason, halts := validateBuildDone(ev.Payload, e.Bus.ActiveStrategy())
			if reason == "" {
				out = append(out, ev)
				continue
			}
			out = append(out, blockedEvent(taskID, reason))
			e.recordRecoveryEntry(taskID, reason)
			if halts {
				e.State.IsHalted = true
			}
		case ev.Topic == "review.done":
			if reason := validateReviewDone(ev.Payload); reason != "" {
				out = append(out, busproto.New("review.blocked", reason))
			} else {
				out = append(out, ev)
			}
		case ev.Topic == "verify.passed":
			if reason := validateVerifyPassed(ev.Payload); reason != "" {
				out = append(out, busproto.New("verify.failed", reason))
			} else {
				out = append(out, ev)
			}
		default:
			out = append(out, ev)
		}
	}
	return out
}

func (e *Engine) recordRecoveryEntry(taskID, reason string) {
	if e.Recovery == nil {
		return
	}
	entry := recovery.Entry{
		Timestamp:      time.Now(),
		TaskID:         taskID,
		FailureReason:  reason,
		LastSnapshotID: e.State.LastSnapshotID,
		RollbackHint:   fmt.Sprintf("restore refs/ralph/snapshots/%s or the %s fallback identifier", taskID, e.State.LastSnapshotID),
	}
	if err := e.Recovery.Append(entry); err != nil {
		e.Logf("recovery queue append failed: %v", err)
	}
}

// classifyNewTasks inserts a triage.decision followed by a test.strategy
// event immediately ahead of every starting event in events, mirroring the
// original run's initialize_with_topic: the bus's routing mode and active
// strategy must be set before the starting event itself is routed to any
// hat, since the Simple/Full exclusion rules key off them.
func (e *Engine) classifyNewTasks(events []busproto.Event) []busproto.Event {
	starting := e.Config.StartingEvent
	if starting == "" {
		starting = "task.start"
	}
	out := make([]busproto.Event, 0, len(events))
	for _, ev := range events {
		if ev.Topic == starting {
			triageEv := triage.Decide(ev.Payload)
			strategyEv := strategy.Decide(ev.Payload)
			e.State.Triage = triageEv.Triage
			e.State.Strategy = strategyEv.Strategy
			taskID := taskIDFromPayload(ev.Payload)
			if e.Audit != nil {
				_ = e.Audit.Log(audit.TriageDecision, taskID, triageEv.Payload)
				_ = e.Audit.Log(audit.TEAStrategy, taskID, strategyEv.Payload)
			}
			out = append(out, triageEv, strategyEv)
		}
		out = append(out, ev)
	}
	return out
}

// detectThrashing tracks per-task build.blocked counts and synthesizes
// build.task.abandoned exactly once per task on the third block.
func (e *Engine) detectThrashing(events []busproto.Event) []busproto.Event {
	out := make([]busproto.Event, 0, len(events))
	for _, ev := range events {
		out = append(out, ev)
		if ev.Topic != "build.blocked" {
			continue
		}
		taskID := taskIDFromPayload(ev.Payload)
		_, thirdBlock := e.State.BlockTask(taskID)
		if thirdBlock && !e.State.AbandonedTasks[taskID] {
			e.State.Abandon(taskID)
			out = append(out, busproto.New("build.task.abandoned", taskID))
		}
	}
	return out
}

// handleHumanInteraction sends the first pending human.interact event (if
// any) through the adapter and blocks for a response within its timeout.
func (e *Engine) handleHumanInteraction(ctx context.Context, events []busproto.Event) {
	if e.Human == nil {
		return
	}
	var interact *busproto.Event
	for i := range events {
		if events[i].Topic == "human.interact" {
			interact = &events[i]
			break
		}
	}
	if interact == nil {
		return
	}
	if interact.Options != nil {
		e.State.PendingOptions = interact.Options
	}
	if _, err := e.Human.SendQuestion(ctx, interact.Payload); err != nil {
		e.Logf("send question failed: %v", err)
		return
	}
	journalPath, _ := e.Journal.ResolveJournalPath()
	if _, ok := e.Human.WaitForResponse(ctx, journalPath); !ok {
		e.Logf("human response timed out; continuing without it")
	}
}

// selectNextHat implements the hat-selection rule: Ralph is always chosen
// when custom hats are registered and something is pending; in solo mode the
// unique pending hat is chosen directly; Ralph is also chosen for
// human-only pending state.
func (e *Engine) selectNextHat() (string, bool) {
	ids := e.Bus.HatIDs()
	if len(ids) > 0 {
		if e.Bus.Registry().IsEmpty() {
			sort.Strings(ids)
			return ids[0], true
		}
		return busproto.RalphHatID, true
	}
	if e.Bus.HasHumanPending() {
		return busproto.RalphHatID, true
	}
	return "", false
}

// injectStallRecovery is the single permitted form of silent self-repair:
// when a hat's turn produces no pending events at all, nudge it (or
// broadcast) to resume.
func (e *Engine) injectStallRecovery() {
	const instruction = "previous iteration did not publish; review scratchpad and either dispatch or complete"
	ev := busproto.New("task.resume", instruction)
	if e.State.LastHat != "" && e.State.LastHat != busproto.RalphHatID {
		ev = ev.WithTarget(e.State.LastHat)
	}
	e.Bus.Publish(ev)
}

func (e *Engine) composePrompt(hat busproto.Hat, hatID string, events []busproto.Event) (string, error) {
	var allHats []busproto.Hat
	for _, h := range e.Bus.Registry().All() {
		if h.ID != busproto.RalphHatID {
			allHats = append(allHats, h)
		}
	}
	return e.Composer.Compose(prompt.Request{
		Hat:           hat,
		Events:        events,
		AllHats:       allHats,
		PendingTopics: e.Bus.PendingTopics(),
		SoloMode:      e.Bus.Registry().IsEmpty(),
	})
}

func (e *Engine) maybeCheckin(ctx context.Context, hatID string) {
	if e.Human == nil || e.Config.CheckinInterval <= 0 {
		return
	}
	if !e.State.LastCheckin.IsZero() && time.Since(e.State.LastCheckin) < e.Config.CheckinInterval {
		return
	}
	info := e.checkinContext(hatID)
	if err := e.Human.SendCheckin(ctx, e.State.Iteration, time.Since(e.State.StartedAt), info); err != nil {
		e.Logf("send checkin failed: %v", err)
	}
	e.State.LastCheckin = time.Now()
}

// checkinContext gathers the open/closed task counts and cumulative cost
// surfaced in a periodic check-in.
func (e *Engine) checkinContext(hatID string) human.CheckinContext {
	info := human.CheckinContext{
		CurrentHat:        hatID,
		CumulativeCostUSD: e.State.CumulativeCost,
	}
	if e.Composer == nil || e.Composer.Tasks == nil || !e.Composer.Tasks.Enabled {
		return info
	}
	all, err := e.Composer.Tasks.Load()
	if err != nil {
		return info
	}
	info.OpenTaskCount = len(tasks.Ready(all)) + len(tasks.Blocked(all))
	for _, t := range all {
		if !t.Open {
			info.ClosedTaskCount++
		}
	}
	return info
}
