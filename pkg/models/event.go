package models

import "time"

// EventSource identifies which caller produced a detection event.
type EventSource string

const (
	SourceLive  EventSource = "live"
	SourceImage EventSource = "image"
	SourceVideo EventSource = "video"
)

// Event is the immutable record of one accepted alert. It is written once
// through the event store and never mutated afterwards.
type Event struct {
	ID          int64          `json:"id"`
	Timestamp   time.Time      `json:"timestamp"`
	Source      EventSource    `json:"source"`
	Label       Label          `json:"label"`
	Confidence  float64        `json:"confidence"`
	TrackID     string         `json:"track_id,omitempty"`
	SnapshotRef string         `json:"snapshot_ref,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}
