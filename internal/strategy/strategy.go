// Package strategy designs the risk-tiered test strategy attached to a task,
// parameterizing the verification gates the quality-report evidence must
// clear.
package strategy

import (
	"strings"

	"github.com/ralphloop/ralph/internal/busproto"
)

var tier1Keywords = []string{"auth", "core", "security", "database"}
var tier2Keywords = []string{"api", "backend", "logic"}
var tier3Keywords = []string{"docs", "readme", "ui", "frontend"}
var tier3Override = []string{"simple", "minor"}
var tier1Override = []string{"complex", "refactor"}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Design maps a task/plan description to a risk tier via the keyword matrix,
// with the "simple"/"minor" and "complex"/"refactor" overrides applied last.
func Design(description string) busproto.TestStrategy {
	tier := busproto.Tier3
	reason := "no risk signal matched; defaulting to the lightest tier"

	switch {
	case containsAny(description, tier1Keywords):
		tier, reason = busproto.Tier1, "description touches an auth/core/security/database concern"
	case containsAny(description, tier2Keywords):
		tier, reason = busproto.Tier2, "description touches an api/backend/logic concern"
	case containsAny(description, tier3Keywords):
		tier, reason = busproto.Tier3, "description touches docs/readme/ui/frontend"
	}

	if containsAny(description, tier3Override) {
		tier, reason = busproto.Tier3, "explicitly flagged simple/minor; overriding to the lightest tier"
	}
	if containsAny(description, tier1Override) {
		tier, reason = busproto.Tier1, "explicitly flagged complex/refactor; overriding to the strictest tier"
	}

	return forTier(tier, reason)
}

func forTier(tier busproto.Tier, reason string) busproto.TestStrategy {
	switch tier {
	case busproto.Tier1:
		return busproto.TestStrategy{
			Tier:                busproto.Tier1,
			MinCoverage:         95,
			MandatoryCategories: []string{"unit", "integration", "lint", "security"},
			HardGates:           []string{"zero_lint_warnings", "specs_verified"},
			Reason:              reason,
		}
	case busproto.Tier2:
		return busproto.TestStrategy{
			Tier:                busproto.Tier2,
			MinCoverage:         80,
			MandatoryCategories: []string{"unit", "lint"},
			HardGates:           []string{"zero_lint_errors"},
			Reason:              reason,
		}
	default:
		return busproto.TestStrategy{
			Tier:                busproto.Tier3,
			MinCoverage:         0,
			MandatoryCategories: []string{"smoke"},
			HardGates:           nil,
			Reason:              reason,
		}
	}
}

// Decide designs a strategy for description and returns the test.strategy
// event ready to publish.
func Decide(description string) busproto.Event {
	s := Design(description)
	return busproto.Event{
		Topic:    "test.strategy",
		Payload:  s.Reason,
		Strategy: &s,
	}
}
