// Package broadcast defines the port for fanning out queue state-change
// events to in-process subscribers (the WebSocket adapter, primarily).
package broadcast

import "context"

// Event is a single state-change notification.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Subscription is a bounded-capacity receive channel paired with a filter.
// The broadcaster never blocks on a slow subscriber: when Events is full,
// it drops the oldest pending event and marks the subscription lossy so
// the receiver knows to resync from a REST snapshot instead of trusting
// the stream to be complete.
type Subscription struct {
	Events <-chan Event
	Lossy  func() bool
	Cancel func()
}

// Broadcaster sends real-time events to all registered subscribers.
type Broadcaster interface {
	// BroadcastEvent sends a typed event to every subscriber whose filter matches.
	BroadcastEvent(ctx context.Context, eventType string, payload any)

	// Subscribe registers a new subscriber. filter may be nil to match everything.
	Subscribe(filter func(Event) bool) *Subscription
}
