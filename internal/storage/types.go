package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// OutageEntry records one backend downtime episode, appended when the
// backend recovers (or on shutdown while still down, with zero RecoveredAt).
// Keep it compact and schema-stable.
type OutageEntry struct {
	Backend     string    `json:"backend"`
	StartedAt   time.Time `json:"started_at"`
	RecoveredAt time.Time `json:"recovered_at,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Checks      int       `json:"checks"`
	PagesServed uint64    `json:"pages_served"`
}

// Duration reports how long the outage lasted; zero for still-open entries.
func (e OutageEntry) Duration() time.Duration {
	if e.RecoveredAt.IsZero() {
		return 0
	}
	return e.RecoveredAt.Sub(e.StartedAt)
}
