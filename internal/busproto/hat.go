package busproto

import "github.com/ralphloop/ralph/internal/topic"

// RalphHatID is the constant universal-fallback hat id. It is always
// subscribed to "*" and cannot be overridden by configuration or by a
// user-defined hat sharing its id.
const RalphHatID = "ralph"

// Hat is a routing contract: a persona with subscriptions and advertised
// publications. It is not a thread or a goroutine — hats never execute
// anything themselves, they only describe what the agent may be addressed as.
type Hat struct {
	ID            string
	Name          string
	Description   string
	Subscriptions []string
	Publishes     []string
	Instructions  string

	// MaxActivations bounds how many times this hat may be dispatched to
	// before the engine starts dropping its pending events. Zero means
	// unbounded.
	MaxActivations int
	// DefaultPublishes is the topic synthesized when this hat is activated
	// but publishes nothing during its turn.
	DefaultPublishes string
	// Backend optionally overrides which agent backend serves this hat.
	Backend string
}

// MatchesSpecifically reports whether h has a non-wildcard subscription
// matching topic.
func (h Hat) MatchesSpecifically(t string) bool {
	return topic.MatchesSpecific(h.Subscriptions, t)
}

// MatchesFallback reports whether h subscribes to the topic only via the
// global wildcard.
func (h Hat) MatchesFallback(t string) bool {
	return topic.MatchesAny(h.Subscriptions, t) && !h.MatchesSpecifically(t)
}

// DefaultRalph returns the constant coordinator hat. It is always present,
// subscribed to everything, and serves as the fallback recipient for
// orphaned events.
func DefaultRalph() Hat {
	return Hat{
		ID:            RalphHatID,
		Name:          "Ralph",
		Description:   "The constant coordinator; receives anything no other hat specifically claims.",
		Subscriptions: []string{topic.GlobalWildcard},
		Publishes:     []string{"task.start", "task.resume", "loop.terminate"},
		Instructions:  "You are Ralph, the ever-present coordinator. Review pending events and either dispatch work to a specialist hat or complete the task yourself.",
	}
}

// DefaultPlanner returns the built-in "planner" hat used in Full routing
// mode to break a task into a plan before execution.
func DefaultPlanner() Hat {
	return Hat{
		ID:            "planner",
		Name:          "Planner",
		Description:   "Breaks a Full-mode task into an ordered plan before execution begins.",
		Subscriptions: []string{"task.start"},
		Publishes:     []string{"plan.ready"},
		Instructions:  "Produce a concrete, ordered implementation plan. Do not write code yet.",
	}
}

// DefaultBuilder returns the built-in "builder" hat that executes plan steps
// and reports build evidence.
func DefaultBuilder() Hat {
	return Hat{
		ID:            "builder",
		Name:          "Builder",
		Description:   "Implements plan steps and reports backpressure evidence via build.done.",
		Subscriptions: []string{"plan.ready", "build.blocked", "task.resume"},
		Publishes:     []string{"build.done"},
		Instructions:  "Implement the next plan step. Publish build.done with full backpressure evidence when finished.",
	}
}

// DefaultSimpleExecutor returns the built-in "simple-executor" hat used in
// Simple routing mode, bypassing the planner entirely.
func DefaultSimpleExecutor() Hat {
	return Hat{
		ID:            "simple-executor",
		Name:          "Simple Executor",
		Description:   "Executes Simple-mode tasks directly without a planning pass.",
		Subscriptions: []string{"triage.decision", "build.blocked"},
		Publishes:     []string{"build.done"},
		Instructions:  "This is a Simple task. Make the minimal change and publish build.done with evidence.",
	}
}

// DefaultTEA returns the built-in Test Architect hat that reviews evidence
// against the active test strategy and reports review/quality outcomes.
func DefaultTEA() Hat {
	return Hat{
		ID:            "tea",
		Name:          "Test Architect",
		Description:   "Designs and enforces the risk-tiered verification strategy.",
		Subscriptions: []string{"test.strategy", "build.done", "review.done"},
		Publishes:     []string{"verify.passed", "verify.failed"},
		Instructions:  "Verify the change against the active test strategy's mandatory categories and hard gates.",
	}
}
