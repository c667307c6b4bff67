package types

import "time"

// EventKind classifies a lifecycle event emitted by a manager.
type EventKind string

// Lifecycle event kinds.
const (
	EventInitialized   EventKind = "initialized"
	EventError         EventKind = "error"
	EventTxBegin       EventKind = "tx_begin"
	EventTxCommitted   EventKind = "tx_committed"
	EventTxRolledBack  EventKind = "tx_rolled_back"
	EventHealthChecked EventKind = "health_checked"
)

// Event is a fire-and-forget notification for logging/UI collaborators.
// Delivery is best-effort: events are dropped rather than ever blocking a
// database operation.
type Event struct {
	Kind     EventKind `json:"kind"`
	Database string    `json:"database"`
	Success  bool      `json:"success"`
	Message  string    `json:"message,omitempty"`
	At       time.Time `json:"at"`
}

// EventSink receives lifecycle events. Implementations must be cheap; slow
// consumers lose events instead of stalling callers.
type EventSink func(Event)
