package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/maskguard/maskguard/internal/alert"
	"github.com/maskguard/maskguard/internal/detect"
	"github.com/maskguard/maskguard/internal/metrics"
	"github.com/maskguard/maskguard/internal/storage"
	"github.com/maskguard/maskguard/internal/track"
	"github.com/maskguard/maskguard/pkg/logging"
	"github.com/maskguard/maskguard/pkg/models"
	"github.com/maskguard/maskguard/pkg/store"
)

// Pipeline threads frames of one stream through detect → track → gate →
// log. Each live session and each video job owns exactly one pipeline, so
// tracking identities can never cross-contaminate between streams.
type Pipeline struct {
	source   models.EventSource
	detector detect.Detector
	tracker  *track.Tracker
	gate     *alert.Gate
	events   store.EventStore
	snaps    *storage.Service
	log      *logging.Logger
	metrics  *metrics.Metrics

	snapshotsEnabled bool
}

// Options configures a pipeline. Detector, Tracker, Gate and Events are
// required; Snapshots and Metrics are optional.
type Options struct {
	Source           models.EventSource
	Detector         detect.Detector
	Tracker          *track.Tracker
	Gate             *alert.Gate
	Events           store.EventStore
	Snapshots        *storage.Service
	SnapshotsEnabled bool
	Logger           *logging.Logger
	Metrics          *metrics.Metrics
}

// New creates a pipeline for one stream.
func New(opts Options) *Pipeline {
	log := opts.Logger
	if log == nil {
		log = logging.New(logging.INFO, false)
	}
	return &Pipeline{
		source:           opts.Source,
		detector:         opts.Detector,
		tracker:          opts.Tracker,
		gate:             opts.Gate,
		events:           opts.Events,
		snaps:            opts.Snapshots,
		snapshotsEnabled: opts.SnapshotsEnabled,
		log:              log.WithComponent("pipeline").WithField("source", string(opts.Source)),
		metrics:          opts.Metrics,
	}
}

// Gate exposes the pipeline's cooldown gate for configuration updates.
func (p *Pipeline) Gate() *alert.Gate { return p.gate }

// SetSnapshotsEnabled toggles snapshot persistence, effective on the next
// processed frame.
func (p *Pipeline) SetSnapshotsEnabled(enabled bool) { p.snapshotsEnabled = enabled }

// SnapshotsEnabled reports the current snapshot policy.
func (p *Pipeline) SnapshotsEnabled() bool { return p.snapshotsEnabled }

// DetectionResult is one tracked detection plus its alert decision.
type DetectionResult struct {
	models.TrackedDetection
	Alert bool `json:"alert"`
}

// FrameResult is the outcome of processing one frame.
type FrameResult struct {
	Detections []DetectionResult `json:"detections"`
	FacesCount int               `json:"faces_count"`
	Alert      bool              `json:"alert"`
}

// ProcessFrame runs one frame through the pipeline. A detector failure is a
// transient inference failure: the frame yields zero detections and the
// stream continues. An event-store append failure is logged and dropped; the
// gate's cooldown state has already advanced and must not be rolled back.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame image.Image, frameIndex int, now time.Time) FrameResult {
	result := FrameResult{Detections: []DetectionResult{}}

	start := time.Now()
	detections, err := p.detector.Detect(ctx, frame)
	if p.metrics != nil {
		p.metrics.DetectSeconds.Observe(time.Since(start).Seconds())
		p.metrics.FramesProcessed.WithLabelValues(string(p.source)).Inc()
	}
	if err != nil {
		p.log.Warn("detector failed, treating frame as empty", map[string]interface{}{
			"frame": frameIndex,
			"error": err.Error(),
		})
		if p.metrics != nil {
			p.metrics.DetectFailures.WithLabelValues(string(p.source)).Inc()
		}
		// Still age tracks: a failed frame is a frame without matches.
		p.tracker.Update(nil, frameIndex)
		p.gate.Forget(p.tracker.DrainEvicted())
		return result
	}

	tracked := p.tracker.Update(detections, frameIndex)
	result.FacesCount = len(tracked)

	for _, td := range tracked {
		alerted := p.gate.ShouldAlert(td.TrackID, td.Label, now)
		result.Detections = append(result.Detections, DetectionResult{
			TrackedDetection: td,
			Alert:            alerted,
		})
		if !alerted {
			continue
		}
		result.Alert = true
		p.recordAlert(frame, td, frameIndex, now)
	}

	p.gate.Forget(p.tracker.DrainEvicted())
	return result
}

func (p *Pipeline) recordAlert(frame image.Image, td models.TrackedDetection, frameIndex int, now time.Time) {
	var snapshotRef string
	if p.snapshotsEnabled && p.snaps != nil {
		ref, err := p.snaps.SaveSnapshot(frame, td.Box, string(p.source)+"_"+td.TrackID)
		if err != nil {
			p.log.Warn("snapshot save failed", map[string]interface{}{
				"track_id": td.TrackID,
				"error":    err.Error(),
			})
		} else {
			snapshotRef = ref
		}
	}

	event := &models.Event{
		Timestamp:   now,
		Source:      p.source,
		Label:       td.Label,
		Confidence:  td.Confidence,
		TrackID:     td.TrackID,
		SnapshotRef: snapshotRef,
		Meta: map[string]any{
			"frame": frameIndex,
			"box":   td.Box,
		},
	}
	if _, err := p.events.AppendEvent(event); err != nil {
		// Losing one log entry is acceptable; corrupting tracking state is not.
		p.log.Warn("event append failed", map[string]interface{}{
			"track_id": td.TrackID,
			"label":    string(td.Label),
			"error":    err.Error(),
		})
	}
	if p.metrics != nil {
		p.metrics.AlertsEmitted.WithLabelValues(string(p.source), string(td.Label)).Inc()
	}
}
