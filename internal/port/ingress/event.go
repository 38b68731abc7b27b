// Package ingress defines the normalized-event contract fed to the Queue
// Engine by both the webhook and polling intake adapters.
package ingress

import "context"

// Kind classifies a normalized Forge event.
type Kind string

const (
	KindLabelAdded   Kind = "label_added"
	KindLabelRemoved Kind = "label_removed"
	KindPRUpdated    Kind = "pr_updated"
	KindPRClosed     Kind = "pr_closed"
)

// NormalizedEvent is the common shape produced by every event source,
// regardless of origin (webhook POST or repository-events polling).
type NormalizedEvent struct {
	Kind      Kind
	Owner     string
	Repo      string
	PRNumber  int
	SHA       string // empty when not applicable
	Label     string // the label added/removed, when Kind is label_*
}

// Source is an event-ingress adapter that feeds normalized events to a sink.
type Source interface {
	// Run blocks, delivering events to sink until ctx is cancelled.
	Run(ctx context.Context, sink func(NormalizedEvent)) error
}
