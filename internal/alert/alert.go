// Package alert delivers operator notifications about backend outages and
// recoveries through pluggable channels (webhooks, Telegram). Delivery is
// asynchronous: queue + worker pool + rate limit + retry + dedup.
package alert

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"
)

var (
	ErrDisabled  = errors.New("alerting disabled")
	ErrQueueFull = errors.New("alert queue full")
	ErrStopped   = errors.New("alert service stopped")
)

// Severity levels; higher is more urgent.
const (
	SeverityInfo     = 5
	SeverityWarning  = 7
	SeverityCritical = 9
)

// Message is a channel-agnostic alert. Channels render it however their
// transport wants.
type Message struct {
	Severity int
	Title    string
	Text     string
	At       time.Time
}

// Channel is a delivery transport for alerts.
type Channel interface {
	// Type identifies the transport ("discord", "slack", "generic", "telegram").
	Type() string

	// Send delivers one message. Errors trigger the service's retry policy.
	Send(ctx context.Context, m Message) error

	// Validate checks the channel configuration before the service starts.
	Validate() error
}

// Config controls the delivery pipeline. Zero values pick safe defaults.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int

	// PersistDedup makes suppressions outlive a restart through the
	// attached DedupStore, so a crash inside the dedup window does not
	// re-deliver the same alert.
	PersistDedup bool
}

// DedupStore persists dedup suppressions. Satisfied by storage.Store.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// DeliveryEvent is published on the bus for queue/sent/failed transitions.
type DeliveryEvent struct {
	Title string    `json:"title"`
	Key   string    `json:"key,omitempty"`
	Error string    `json:"error,omitempty"`
	At    time.Time `json:"at"`
}

// HistoryItem is a delivered alert kept for the status endpoint.
type HistoryItem struct {
	At   time.Time `json:"at"`
	Text string    `json:"text"`
}

func prefixForSeverity(sev int) string {
	switch {
	case sev >= SeverityCritical:
		return "🚨 "
	case sev >= SeverityWarning:
		return "⚠️ "
	case sev >= SeverityInfo:
		return "ℹ️ "
	default:
		return ""
	}
}

func dedupKey(m Message) string {
	if m.Title == "" && m.Text == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(m.Title))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(fmt.Sprintf("%d|", m.Severity)))
	_, _ = h.Write([]byte(m.Text))
	return fmt.Sprintf("%x", h.Sum64())
}
