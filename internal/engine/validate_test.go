package engine

import (
	"strings"
	"testing"

	"github.com/ralphloop/ralph/internal/busproto"
)

func TestValidateBuildDoneMissingEvidenceBlocksWithoutHalting(t *testing.T) {
	reason, halts := validateBuildDone("T1\nno evidence here", nil)
	if reason == "" {
		t.Fatal("expected a block reason for missing evidence")
	}
	if halts {
		t.Error("missing evidence must not halt the loop")
	}
}

func TestValidateBuildDoneFailingEvidenceHalts(t *testing.T) {
	payload := "tests:fail,lint:pass,typecheck:pass,audit:pass,coverage:pass,duplication:pass"
	reason, halts := validateBuildDone(payload, nil)
	if reason == "" {
		t.Fatal("expected a block reason for failing evidence")
	}
	if !halts {
		t.Error("failing evidence must halt the loop")
	}
}

func TestValidateBuildDoneFixedDimensionFailureHaltsBeforeStrategyIsChecked(t *testing.T) {
	payload := "tests:pass,lint:fail,typecheck:pass,audit:pass,coverage:pass,duplication:pass"
	strat := &busproto.TestStrategy{MandatoryCategories: []string{"unit"}}
	reason, halts := validateBuildDone(payload, strat)
	if reason == "" {
		t.Fatal("expected a block reason for failing evidence")
	}
	if !halts {
		t.Error("expected halting result")
	}
}

func TestValidateBuildDonePassesWithCleanEvidenceAndStrategy(t *testing.T) {
	payload := "tests:pass,lint:pass,typecheck:pass,audit:pass,coverage:pass,duplication:pass"
	strat := &busproto.TestStrategy{MandatoryCategories: []string{"unit", "security"}}
	reason, halts := validateBuildDone(payload, strat)
	if reason != "" {
		t.Fatalf("expected no block, got %q", reason)
	}
	if halts {
		t.Error("expected no halt")
	}
}

func TestValidateBuildDoneUnknownCategoryIsIgnored(t *testing.T) {
	payload := "tests:pass,lint:pass,typecheck:pass,audit:pass,coverage:pass,duplication:pass"
	strat := &busproto.TestStrategy{MandatoryCategories: []string{"load-test"}}
	reason, halts := validateBuildDone(payload, strat)
	if reason != "" || halts {
		t.Fatalf("expected unknown categories to be ignored, got reason=%q halts=%v", reason, halts)
	}
}

func TestValidateReviewDoneMissingAndFailingAndPassing(t *testing.T) {
	if r := validateReviewDone("no evidence"); r == "" {
		t.Error("expected block reason for missing review evidence")
	}
	if r := validateReviewDone("tests:pass,build:fail"); r == "" {
		t.Error("expected block reason when build did not pass")
	}
	if r := validateReviewDone("tests:pass,build:pass"); r != "" {
		t.Errorf("expected no block, got %q", r)
	}
}

func TestValidateVerifyPassedMissingAndFailingAndPassing(t *testing.T) {
	if r := validateVerifyPassed("nothing here"); r == "" {
		t.Error("expected failure reason for missing quality report")
	}
	if r := validateVerifyPassed("tests:fail,lint:pass,audit:pass"); r == "" {
		t.Error("expected failure reason when tests did not pass")
	}
	if r := validateVerifyPassed("tests:pass,lint:pass,audit:pass,coverage:90"); r != "" {
		t.Errorf("expected thresholds to be met, got %q", r)
	}
}

func TestTaskIDFromPayloadFirstLineOrWhole(t *testing.T) {
	if got := taskIDFromPayload("T1\nrest of payload"); got != "T1" {
		t.Errorf("got %q, want T1", got)
	}
	if got := taskIDFromPayload("T1"); got != "T1" {
		t.Errorf("got %q, want T1", got)
	}
}

func TestBlockedEventEncodesTaskIDOnFirstLine(t *testing.T) {
	ev := blockedEvent("T7", "some reason")
	if ev.Topic != "build.blocked" {
		t.Fatalf("unexpected topic %q", ev.Topic)
	}
	if !strings.HasPrefix(ev.Payload, "T7\n") {
		t.Errorf("expected payload to start with task id, got %q", ev.Payload)
	}
	if taskIDFromPayload(ev.Payload) != "T7" {
		t.Errorf("taskIDFromPayload round-trip failed on %q", ev.Payload)
	}
}
