// Package history fans supervision lifecycle events out to audit sinks,
// giving every process a structured, queryable trail of its runs.
package history

import (
	"context"
	"time"

	"github.com/daehan/warden/internal/store"
)

// EventType is the kind of lifecycle transition being recorded.
type EventType string

const (
	EventStart       EventType = "start"
	EventStartFailed EventType = "start_failed"
	EventStop        EventType = "stop"
	EventRestart     EventType = "restart"
	EventGiveUp      EventType = "give_up"
)

// Event is one lifecycle transition of one process run.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
}

// Sink is a destination for history events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
