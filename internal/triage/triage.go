// Package triage classifies an incoming task description as Simple or Full
// work so the bus can switch routing mode before any hat sees it.
package triage

import (
	"strings"

	"github.com/ralphloop/ralph/internal/busproto"
)

var simpleKeywords = []string{
	"typo", "readme", "comment", "rename", "format", "spelling", "grammar",
	"ignore", "changelog", "todo",
}

var fullKeywords = []string{
	"feature", "implement", "refactor", "design", "api", "component",
	"integration", "fix bug", "module", "system", "rewrite",
}

const (
	shortDescriptionLimit = 40
	longDescriptionLimit  = 200
)

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Classify applies the triage heuristic to description, returning the
// decision to be published on the triage.decision topic.
func Classify(description string) busproto.TriageDecision {
	hasSimple := containsAny(description, simpleKeywords)
	hasFull := containsAny(description, fullKeywords)

	switch {
	case hasFull:
		return busproto.TriageDecision{
			Mode:       busproto.RoutingModeFull,
			Reason:     "description contains a Full-complexity keyword",
			Confidence: 0.85,
		}
	case len(description) > longDescriptionLimit:
		return busproto.TriageDecision{
			Mode:       busproto.RoutingModeFull,
			Reason:     "description exceeds the long-task length threshold",
			Confidence: 0.85,
		}
	case len(description) < shortDescriptionLimit && !hasFull:
		reason := "description is short and carries no Full-complexity signal"
		if hasSimple {
			reason = "description contains a Simple-complexity keyword"
		}
		return busproto.TriageDecision{
			Mode:       busproto.RoutingModeSimple,
			Reason:     reason,
			Confidence: 0.8,
		}
	default:
		return busproto.TriageDecision{
			Mode:       busproto.RoutingModeFull,
			Reason:     "ambiguous description; defaulting to the safer Full path",
			Confidence: 0.6,
		}
	}
}

// Decide classifies description and returns the triage.decision event ready
// to publish.
func Decide(description string) busproto.Event {
	decision := Classify(description)
	return busproto.Event{
		Topic:  "triage.decision",
		Payload: decision.Reason,
		Triage: &decision,
	}
}
