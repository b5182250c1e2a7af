package heartbeat

import "time"

// StalePeriod is how old a heartbeat may be before observers treat the
// worker as unresponsive.
const StalePeriod = 10 * time.Second

// Heartbeat is a status snapshot published once per reconciliation tick.
// IsSynced is nil when no target process is running or when an error
// prevented the worker from determining sync state.
type Heartbeat struct {
	At       time.Time `json:"at"`
	IsSynced *bool     `json:"is_synced"`
	Error    string    `json:"error,omitempty"`
}

// Now builds a heartbeat stamped with the current time.
func Now(isSynced *bool, err error) Heartbeat {
	hb := Heartbeat{At: time.Now().UTC(), IsSynced: isSynced}
	if err != nil {
		hb.Error = err.Error()
	}
	return hb
}

// Bool returns a pointer to b for use as Heartbeat.IsSynced.
func Bool(b bool) *bool { return &b }

func (h Heartbeat) HasError() bool { return h.Error != "" }

// IsStale reports whether the heartbeat is older than StalePeriod.
func (h Heartbeat) IsStale() bool { return h.IsStaleAt(time.Now()) }

func (h Heartbeat) IsStaleAt(now time.Time) bool {
	return now.Sub(h.At) > StalePeriod
}

// Equal compares all fields including the timestamp.
func (h Heartbeat) Equal(o Heartbeat) bool {
	if !h.At.Equal(o.At) || h.Error != o.Error {
		return false
	}
	if (h.IsSynced == nil) != (o.IsSynced == nil) {
		return false
	}
	return h.IsSynced == nil || *h.IsSynced == *o.IsSynced
}

func (h Heartbeat) clone() Heartbeat {
	if h.IsSynced != nil {
		h.IsSynced = Bool(*h.IsSynced)
	}
	return h
}

// Worker and sync labels shown to users.
const (
	LabelStarting       = "Starting"
	LabelRunning        = "Running"
	LabelLostConnection = "Lost connection"

	LabelSynced         = "Synced"
	LabelLikelySynced   = "Likely synced"
	LabelUnsynced       = "Unsynced"
	LabelLikelyUnsynced = "Likely unsynced"
	LabelNotApplicable  = "N/A"
)

// WorkerLabel describes worker liveness for the latest heartbeat, if any.
func WorkerLabel(hb *Heartbeat, now time.Time) string {
	switch {
	case hb == nil:
		return LabelStarting
	case hb.IsStaleAt(now):
		return LabelLostConnection
	default:
		return LabelRunning
	}
}

// SyncLabel describes configuration sync state for the latest heartbeat.
// A stale heartbeat downgrades certainty rather than hiding the last result.
func SyncLabel(hb *Heartbeat, now time.Time) string {
	if hb == nil || hb.IsSynced == nil {
		return LabelNotApplicable
	}
	stale := hb.IsStaleAt(now)
	switch {
	case *hb.IsSynced && stale:
		return LabelLikelySynced
	case *hb.IsSynced:
		return LabelSynced
	case stale:
		return LabelLikelyUnsynced
	default:
		return LabelUnsynced
	}
}
