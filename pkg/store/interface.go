package store

import (
	"io"
	"time"

	"github.com/maskguard/maskguard/pkg/models"
)

// EventFilter narrows queries over the event log. Zero values mean "no
// constraint" for that field.
type EventFilter struct {
	Source models.EventSource
	Label  models.Label
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}

// EventStats summarizes the event log for a filter window.
type EventStats struct {
	Total    int                        `json:"total"`
	ByLabel  map[models.Label]int       `json:"by_label"`
	BySource map[models.EventSource]int `json:"by_source"`
}

// EventStore is the durable, append-only log of accepted alerts.
// Appends must be safe for concurrent callers; events are never mutated.
type EventStore interface {
	// AppendEvent persists an event and returns its assigned ID.
	AppendEvent(event *models.Event) (int64, error)

	// QueryEvents returns events matching the filter in reverse-chronological
	// order.
	QueryEvents(filter EventFilter) ([]models.Event, error)

	// EventStats aggregates totals by label and source for the filter window.
	EventStats(filter EventFilter) (*EventStats, error)

	// ExportCSV streams matching events as CSV with a fixed column order:
	// timestamp, source, label, confidence, track_id, snapshot_ref.
	ExportCSV(w io.Writer, filter EventFilter) error

	// Lifecycle
	Close() error
	HealthCheck() error
}
