package engine

import (
	"fmt"
	"strings"

	"github.com/ralphloop/ralph/internal/busproto"
	"github.com/ralphloop/ralph/internal/evidence"
)

// categoryMapping translates a test-strategy mandatory category name onto
// the backpressure evidence dimension that stands in for it. The evidence
// struct carries fixed boolean dimensions (tests, lint, typecheck, audit,
// coverage, duplication) rather than the strategy's open-ended category
// vocabulary, so "integration" and "unit" both gate on the tests dimension
// and "security" gates on the audit dimension.
var categoryMapping = map[string]string{
	"unit":        "tests",
	"integration": "tests",
	"lint":        "lint",
	"security":    "audit",
	"smoke":       "tests",
}

// validateBuildDone checks build.done evidence against both the fixed
// backpressure rules and the active test strategy's mandatory categories. It
// returns the reason for a block ("" if the evidence passes) and whether the
// loop should halt: missing evidence blocks the task without halting, but a
// failing or strategy-violating result halts the loop until cleared.
func validateBuildDone(payload string, strat *busproto.TestStrategy) (reason string, halts bool) {
	ev, ok := evidence.ParseBackpressureEvidence(payload)
	if !ok {
		return "Missing backpressure evidence in build.done payload", false
	}
	if !ev.AllPassed() {
		return "Backpressure evidence failed: " + strings.Join(ev.FailedDimensions(), ", "), true
	}
	if strat != nil {
		if violations := strategyViolations(ev, strat); len(violations) > 0 {
			return "TEA Strategy Gate Violation: " + strings.Join(violations, ", "), true
		}
	}
	return "", false
}

func strategyViolations(ev evidence.BackpressureEvidence, strat *busproto.TestStrategy) []string {
	var violations []string
	for _, category := range strat.MandatoryCategories {
		dim, known := categoryMapping[strings.ToLower(category)]
		if !known {
			continue
		}
		if !dimensionPassed(ev, dim) {
			violations = append(violations, category+" not satisfied")
		}
	}
	return violations
}

func dimensionPassed(ev evidence.BackpressureEvidence, dim string) bool {
	switch dim {
	case "tests":
		return ev.Tests
	case "lint":
		return ev.Lint
	case "audit":
		return ev.Audit
	default:
		return true
	}
}

// validateReviewDone returns a block reason, or "" if review.done evidence
// verifies cleanly.
func validateReviewDone(payload string) string {
	ev, ok := evidence.ParseReviewEvidence(payload)
	if !ok {
		return "Missing review evidence in review.done payload"
	}
	if !ev.IsVerified() {
		return "Review evidence failed: tests_passed/build_passed not both true"
	}
	return ""
}

// validateVerifyPassed returns a failure reason, or "" if the quality report
// meets every threshold.
func validateVerifyPassed(payload string) string {
	report, ok := evidence.ParseQualityReport(payload)
	if !ok {
		return "Missing quality report in verify.passed payload"
	}
	if !report.MeetsThresholds() {
		return "Quality thresholds failed: " + strings.Join(report.FailedDimensions(), ", ")
	}
	return ""
}

// taskIDFromPayload returns the task id a blocked/abandoned payload is keyed
// by: its first line.
func taskIDFromPayload(payload string) string {
	if idx := strings.IndexByte(payload, '\n'); idx >= 0 {
		return payload[:idx]
	}
	return payload
}

func blockedEvent(taskID, reason string) busproto.Event {
	return busproto.New("build.blocked", fmt.Sprintf("%s\n%s", taskID, reason))
}
