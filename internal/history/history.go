package history

import (
	"context"
	"time"

	"github.com/loykin/affinityd/internal/heartbeat"
)

// Event is one published heartbeat, enriched with what the worker was
// reconciling at the time.
type Event struct {
	OccurredAt  time.Time `json:"occurred_at"`
	ProcessName string    `json:"process_name"`
	Matched     int       `json:"matched"`
	Corrected   bool      `json:"corrected"`
	IsSynced    *bool     `json:"is_synced"`
	Error       string    `json:"error,omitempty"`
}

// FromHeartbeat builds an Event for hb.
func FromHeartbeat(hb heartbeat.Heartbeat, processName string, matched int, corrected bool) Event {
	return Event{
		OccurredAt:  hb.At,
		ProcessName: processName,
		Matched:     matched,
		Corrected:   corrected,
		IsSynced:    hb.IsSynced,
		Error:       hb.Error,
	}
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Pruner is implemented by sinks that can drop events older than a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}
