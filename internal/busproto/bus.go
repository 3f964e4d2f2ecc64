package busproto

import "github.com/ralphloop/ralph/internal/topic"

// Observer is a side-channel tap invoked with every event in publish order,
// regardless of routing outcome. Observers are owned closures: the bus never
// holds a back-pointer into whatever state they capture.
type Observer func(Event)

// Bus is an in-memory publish/subscribe router. It is not safe for
// concurrent use — by design, all mutation is serialized by the iteration
// engine's single logical task (see the concurrency model in SPEC_FULL.md).
type Bus struct {
	registry *Registry
	pending  map[string][]Event
	human    []Event
	observers []Observer

	routingMode RoutingMode
	strategy    *TestStrategy
}

// NewBus returns a bus backed by registry. registry must outlive the bus.
func NewBus(registry *Registry) *Bus {
	return &Bus{
		registry: registry,
		pending:  make(map[string][]Event),
	}
}

// Registry returns the hat registry backing this bus.
func (b *Bus) Registry() *Registry { return b.registry }

// AddObserver appends an observer invoked on every publish.
func (b *Bus) AddObserver(o Observer) {
	b.observers = append(b.observers, o)
}

// NotifyObservers invokes every registered observer with e without routing it
// into any hat's pending queue or the human queue. Used for bus-internal
// signals, like loop.terminate, that no hat may trigger on.
func (b *Bus) NotifyObservers(e Event) {
	for _, o := range b.observers {
		o(e)
	}
}

// RoutingMode returns the current bus-level routing mode, set by the last
// accepted triage.decision event.
func (b *Bus) RoutingMode() RoutingMode { return b.routingMode }

// ActiveStrategy returns the current test strategy, set by the last accepted
// test.strategy event, or nil if none has landed yet.
func (b *Bus) ActiveStrategy() *TestStrategy { return b.strategy }

// Publish delivers e per the routing rules in SPEC_FULL.md §4.2.
func (b *Bus) Publish(e Event) {
	for _, o := range b.observers {
		o(e)
	}

	if e.Topic == "triage.decision" && e.Triage != nil {
		b.routingMode = e.Triage.Mode
	}
	if e.Topic == "test.strategy" && e.Strategy != nil {
		b.strategy = e.Strategy
	}

	if e.IsHuman() {
		b.human = append(b.human, e)
		return
	}

	if e.Target != "" {
		b.pending[e.Target] = append(b.pending[e.Target], e)
		return
	}

	specific := make([]string, 0)
	fallback := make([]string, 0)
	for _, hat := range b.registry.All() {
		if b.isExcluded(hat.ID, e.Topic) {
			continue
		}
		if hat.MatchesSpecifically(e.Topic) {
			specific = append(specific, hat.ID)
		} else if topic.MatchesAny(hat.Subscriptions, e.Topic) {
			fallback = append(fallback, hat.ID)
		}
	}

	recipients := specific
	if len(recipients) == 0 {
		recipients = fallback
	}
	for _, id := range recipients {
		b.pending[id] = append(b.pending[id], e)
	}
}

// isExcluded applies the routing-mode exclusion filters: under Simple mode
// the planner never sees task.start, and under Full mode simple-executor
// never sees triage.decision.
func (b *Bus) isExcluded(hatID, t string) bool {
	switch {
	case b.routingMode == RoutingModeSimple && hatID == "planner" && t == "task.start":
		return true
	case b.routingMode == RoutingModeFull && hatID == "simple-executor" && t == "triage.decision":
		return true
	default:
		return false
	}
}

// TakePending removes and returns all pending events for hatID, in publish
// order, leaving none behind.
func (b *Bus) TakePending(hatID string) []Event {
	events := b.pending[hatID]
	delete(b.pending, hatID)
	return events
}

// TakeHumanPending removes and returns all events queued on the reserved
// human-interaction FIFO.
func (b *Bus) TakeHumanPending() []Event {
	events := b.human
	b.human = nil
	return events
}

// PeekPending returns the pending events for hatID without consuming them.
func (b *Bus) PeekPending(hatID string) []Event {
	return b.pending[hatID]
}

// HasPending reports whether any hat (or the human queue) has unconsumed
// events.
func (b *Bus) HasPending() bool {
	if len(b.human) > 0 {
		return true
	}
	for _, events := range b.pending {
		if len(events) > 0 {
			return true
		}
	}
	return false
}

// HasHumanPending reports whether the human-interaction queue is non-empty.
func (b *Bus) HasHumanPending() bool {
	return len(b.human) > 0
}

// HatIDs returns the ids of hats that currently have pending events.
func (b *Bus) HatIDs() []string {
	ids := make([]string, 0, len(b.pending))
	for id, events := range b.pending {
		if len(events) > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

// PendingTopics returns the de-duplicated set of topics across every hat's
// pending queue, used to determine which hats are "active" for the
// coordinator's filtered HATS table.
func (b *Bus) PendingTopics() []string {
	seen := make(map[string]bool)
	var topics []string
	for _, events := range b.pending {
		for _, e := range events {
			if !seen[e.Topic] {
				seen[e.Topic] = true
				topics = append(topics, e.Topic)
			}
		}
	}
	return topics
}
