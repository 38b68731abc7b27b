package ws

import "time"

// Event type constants broadcast over /ws/events, per the queue's WS surface.
const (
	EventEntryAdded         = "queue.entry.added"
	EventEntryRemoved       = "queue.entry.removed"
	EventEntryStatusChanged = "queue.entry.status_changed"
	EventConfigUpdated      = "config.updated"
)

// EntryAddedPayload is broadcast when a PR is admitted into a queue.
type EntryAddedPayload struct {
	EntryID       string    `json:"entry_id"`
	QueueID       string    `json:"queue_id"`
	PullRequestID string    `json:"pull_request_id"`
	PRNumber      int       `json:"pr_number"`
	Position      int       `json:"position"`
	Timestamp     time.Time `json:"timestamp"`
}

// EntryRemovedPayload is broadcast when an entry leaves a queue, for any reason.
type EntryRemovedPayload struct {
	EntryID   string    `json:"entry_id"`
	QueueID   string    `json:"queue_id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryStatusChangedPayload is broadcast on every entry status transition.
type EntryStatusChangedPayload struct {
	EntryID   string    `json:"entry_id"`
	QueueID   string    `json:"queue_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigUpdatedPayload is broadcast whenever the system configuration changes.
type ConfigUpdatedPayload struct {
	TriggerLabel string    `json:"trigger_label"`
	Timestamp    time.Time `json:"timestamp"`
}
