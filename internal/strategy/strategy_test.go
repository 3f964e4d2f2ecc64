package strategy

import (
	"testing"

	"github.com/ralphloop/ralph/internal/busproto"
)

func TestDesignHighRiskTier(t *testing.T) {
	s := Design("Add a new authentication flow touching the core database layer")
	if s.Tier != busproto.Tier1 {
		t.Fatalf("expected Tier1, got %v", s.Tier)
	}
	if s.MinCoverage != 95 {
		t.Errorf("expected min coverage 95, got %v", s.MinCoverage)
	}
	if len(s.MandatoryCategories) != 4 {
		t.Errorf("expected 4 mandatory categories, got %v", s.MandatoryCategories)
	}
}

func TestDesignMinimalTier(t *testing.T) {
	s := Design("Update the README docs")
	if s.Tier != busproto.Tier3 {
		t.Fatalf("expected Tier3, got %v", s.Tier)
	}
	if s.MinCoverage != 0 {
		t.Errorf("expected min coverage 0, got %v", s.MinCoverage)
	}
}

func TestDesignAPITier(t *testing.T) {
	s := Design("Add request validation to the backend API logic")
	if s.Tier != busproto.Tier2 {
		t.Fatalf("expected Tier2, got %v", s.Tier)
	}
}

func TestDesignSimpleOverrideWinsOverRiskKeyword(t *testing.T) {
	s := Design("simple fix to the auth config typo")
	if s.Tier != busproto.Tier3 {
		t.Fatalf("expected the simple/minor override to force Tier3, got %v", s.Tier)
	}
}

func TestDesignComplexOverrideWinsOverDocsKeyword(t *testing.T) {
	s := Design("complex refactor of the docs generation pipeline")
	if s.Tier != busproto.Tier1 {
		t.Fatalf("expected the complex/refactor override to force Tier1, got %v", s.Tier)
	}
}
