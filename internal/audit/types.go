package audit

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("audit disabled")

// Config configures the audit trail.
//
// Driver values:
//   - "file": append-only JSON Lines file
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", auditing is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Entry records one state-changing action against the event.
// Keep it compact and schema-stable.
type Entry struct {
	At        time.Time `json:"at"`
	ActorID   int64     `json:"actor_id"`
	ActorName string    `json:"actor_name,omitempty"`
	Action    string    `json:"action"`
	Team      string    `json:"team,omitempty"`
	Size      int       `json:"size,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"err,omitempty"`
	TookMS    int64     `json:"took_ms,omitempty"`
}
