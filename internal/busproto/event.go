// Package busproto defines the event envelope, hat contract, and in-memory
// publish/subscribe bus that route structured agent output through the loop.
package busproto

// RoutingMode is the bus-level mode set by an intercepted triage.decision
// event. It filters which hats are eligible recipients for certain topics.
type RoutingMode string

const (
	// RoutingModeUnset is the initial mode before any triage decision lands.
	RoutingModeUnset RoutingMode = ""
	// RoutingModeSimple excludes the "planner" hat from task.start.
	RoutingModeSimple RoutingMode = "simple"
	// RoutingModeFull excludes the "simple-executor" hat from triage.decision.
	RoutingModeFull RoutingMode = "full"
)

// Tier is a risk classification produced by the test-strategy designer.
type Tier string

const (
	Tier1 Tier = "tier1"
	Tier2 Tier = "tier2"
	Tier3 Tier = "tier3"
)

// TriageDecision classifies an incoming task as Simple or Full work.
type TriageDecision struct {
	Mode       RoutingMode `json:"mode"`
	Reason     string      `json:"reason"`
	Confidence float64     `json:"confidence"`
}

// TestStrategy is the risk-tiered verification plan attached to a task.
type TestStrategy struct {
	Tier               Tier     `json:"tier"`
	MinCoverage        float64  `json:"min_coverage"`
	MandatoryCategories []string `json:"mandatory_categories"`
	HardGates          []string `json:"hard_gates"`
	Reason             string   `json:"reason"`
}

// OptionChoice is a single labeled decision offered to a human operator.
type OptionChoice struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Pros   string `json:"pros,omitempty"`
	Cons   string `json:"cons,omitempty"`
	Impact string `json:"impact,omitempty"`
}

// ProactiveOptions is a structured ambiguity-resolution payload: a small set
// of labeled options the human must pick between.
type ProactiveOptions struct {
	Question string         `json:"question"`
	Options  []OptionChoice `json:"options"`
}

// Event is an immutable record flowing through the bus. Source and Target are
// hat ids; Target, when set, bypasses subscription routing entirely.
type Event struct {
	Topic   string
	Payload string
	Source  string
	Target  string

	Triage   *TriageDecision
	Strategy *TestStrategy
	Options  *ProactiveOptions
}

// New constructs an Event with only the required fields set.
func New(topic, payload string) Event {
	return Event{Topic: topic, Payload: payload}
}

// WithSource returns a copy of e with Source set.
func (e Event) WithSource(hatID string) Event {
	e.Source = hatID
	return e
}

// WithTarget returns a copy of e with Target set, forcing direct delivery.
func (e Event) WithTarget(hatID string) Event {
	e.Target = hatID
	return e
}

// IsHuman reports whether e belongs on the reserved human-interaction queue.
func (e Event) IsHuman() bool {
	const humanPrefix = "human."
	return len(e.Topic) >= len(humanPrefix) && e.Topic[:len(humanPrefix)] == humanPrefix
}
