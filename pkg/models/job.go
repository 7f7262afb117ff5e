package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a video analysis job.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"     // Created, waiting for a worker slot
	JobStatusProcessing JobStatus = "processing" // Worker is iterating frames
	JobStatusCompleted  JobStatus = "completed"  // Finished successfully
	JobStatusFailed     JobStatus = "failed"     // Unrecoverable failure, error captured
	JobStatusCancelled  JobStatus = "cancelled"  // Explicitly cancelled by the caller
)

// validJobTransitions maps from-state to allowed to-states.
// queued → processing is the only entry to active work;
// processing → {completed, failed, cancelled} are the only exits.
var validJobTransitions = map[JobStatus]map[JobStatus]bool{
	JobStatusQueued: {
		JobStatusProcessing: true,
		JobStatusCancelled:  true,
	},
	JobStatusProcessing: {
		JobStatusCompleted: true,
		JobStatusFailed:    true,
		JobStatusCancelled: true,
	},
	// Terminal states (no transitions allowed)
	JobStatusCompleted: {},
	JobStatusFailed:    {},
	JobStatusCancelled: {},
}

// ValidateJobTransition checks if a state transition is valid.
func ValidateJobTransition(from, to JobStatus) error {
	allowed, exists := validJobTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}
	if !allowed[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	return nil
}

// IsTerminalJobStatus returns true if the state admits no further transitions.
func IsTerminalJobStatus(s JobStatus) bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// JobSummary aggregates the outcome of a completed video job.
type JobSummary struct {
	TotalFrames     int           `json:"total_frames"`
	ProcessedFrames int           `json:"processed_frames"`
	LabelCounts     map[Label]int `json:"label_counts"`
	TotalAlerts     int           `json:"total_alerts"`
}

// VideoJob is one asynchronous video analysis task. It is owned exclusively
// by the job manager for its lifetime; callers only read snapshots by ID.
type VideoJob struct {
	ID             string      `json:"job_id"`
	VideoRef       string      `json:"video_ref"`
	SampleFPS      int         `json:"sample_fps"`
	Status         JobStatus   `json:"status"`
	Progress       int         `json:"progress"`
	Summary        *JobSummary `json:"summary,omitempty"`
	Error          string      `json:"error,omitempty"`
	OutputVideoRef string      `json:"output_video_ref,omitempty"`
	AnnotationsRef string      `json:"annotations_ref,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy safe to hand to callers polling status while a
// worker mutates the original.
func (j *VideoJob) Clone() *VideoJob {
	c := *j
	if j.Summary != nil {
		s := *j.Summary
		if j.Summary.LabelCounts != nil {
			s.LabelCounts = make(map[Label]int, len(j.Summary.LabelCounts))
			for k, v := range j.Summary.LabelCounts {
				s.LabelCounts[k] = v
			}
		}
		c.Summary = &s
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
