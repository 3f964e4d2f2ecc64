package topic

import "testing"

func TestMatches(t *testing.T) {
	cases := []struct {
		pattern, topic string
		want           bool
	}{
		{"*", "anything.at.all", true},
		{"*", "", true},
		{"build.done", "build.done", true},
		{"build.done", "build.blocked", false},
		{"build.*", "build.done", true},
		{"build.*", "build.nested.done", true},
		{"build.*", "build", false},
		{"build.*", "builds.done", false},
		{"human.interact", "human.guidance", false},
	}
	for _, c := range cases {
		if got := Matches(c.pattern, c.topic); got != c.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", c.pattern, c.topic, got, c.want)
		}
	}
}

func TestIsGlobalWildcard(t *testing.T) {
	if !IsGlobalWildcard("*") {
		t.Error("expected \"*\" to be the global wildcard")
	}
	if IsGlobalWildcard("build.*") {
		t.Error("did not expect \"build.*\" to be the global wildcard")
	}
}

func TestMatchesSpecific(t *testing.T) {
	patterns := []string{"*", "task.start"}
	if !MatchesSpecific(patterns, "task.start") {
		t.Error("expected specific match on task.start")
	}
	if MatchesSpecific(patterns, "task.other") {
		t.Error("did not expect a specific match on task.other (only wildcard matches)")
	}
}
