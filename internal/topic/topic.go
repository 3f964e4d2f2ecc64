// Package topic implements the dotted-string routing-key matcher used by the
// event bus to decide which hats a published event reaches.
package topic

import "strings"

// GlobalWildcard is the only subscription pattern that acts as a fallback.
const GlobalWildcard = "*"

// Matches reports whether topic routes to a hat subscribed with pattern.
//
// A pattern matches if it is the global wildcard, if it equals the topic
// exactly, or if it is of the form "P.*" and topic starts with "P.".
func Matches(pattern, topic string) bool {
	if pattern == GlobalWildcard {
		return true
	}
	if pattern == topic {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
		return strings.HasPrefix(topic, prefix+".")
	}
	return false
}

// IsGlobalWildcard reports whether pattern is the universal fallback form.
// Only "*" qualifies; "foo.*" is a specific (prefix) subscription.
func IsGlobalWildcard(pattern string) bool {
	return pattern == GlobalWildcard
}

// MatchesAny reports whether topic matches at least one of patterns.
func MatchesAny(patterns []string, topic string) bool {
	for _, p := range patterns {
		if Matches(p, topic) {
			return true
		}
	}
	return false
}

// MatchesSpecific reports whether topic matches at least one non-wildcard
// pattern in patterns. Used to decide whether a hat subscribes "specifically"
// to a topic as opposed to only via the global wildcard.
func MatchesSpecific(patterns []string, topic string) bool {
	for _, p := range patterns {
		if IsGlobalWildcard(p) {
			continue
		}
		if Matches(p, topic) {
			return true
		}
	}
	return false
}
