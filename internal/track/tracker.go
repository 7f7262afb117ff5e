package track

import (
	"fmt"
	"math"
	"sort"

	"github.com/maskguard/maskguard/pkg/models"
)

// Track is one stable identity observed across consecutive frames. It is
// owned exclusively by the tracker that created it.
type Track struct {
	ID            string
	CentroidX     float64
	CentroidY     float64
	Label         models.Label
	LastSeenFrame int
	MissedCount   int
}

// Tracker assigns stable IDs to detections of one logical stream by greedy
// nearest-centroid matching. It is single-writer state: one tracker serves
// exactly one session or job, so no locking is needed.
type Tracker struct {
	maxDistance float64
	maxMissed   int

	nextID  int
	tracks  []*Track // insertion order, used for deterministic tie-breaks
	evicted []string
}

// New creates a tracker. maxDistance is the largest centroid distance that
// still counts as a match; maxMissed is how many consecutive missed frames a
// track survives before eviction.
func New(maxDistance float64, maxMissed int) *Tracker {
	return &Tracker{
		maxDistance: maxDistance,
		maxMissed:   maxMissed,
	}
}

// Len returns the number of live tracks.
func (t *Tracker) Len() int { return len(t.tracks) }

type candidate struct {
	dist     float64
	trackIdx int
	detIdx   int
}

// Update matches detections against live tracks and returns one tracked
// detection per input, preserving input order. Unmatched detections open new
// tracks; tracks missing for more than maxMissed consecutive frames are
// evicted and their IDs never reused.
func (t *Tracker) Update(detections []models.Detection, frameIndex int) []models.TrackedDetection {
	assignedTrack := make([]int, len(detections))
	for i := range assignedTrack {
		assignedTrack[i] = -1
	}
	matchedTracks := make(map[int]bool, len(t.tracks))

	if len(detections) > 0 && len(t.tracks) > 0 {
		centroids := make([][2]float64, len(detections))
		for i, d := range detections {
			cx, cy := d.Box.Centroid()
			centroids[i] = [2]float64{cx, cy}
		}

		var candidates []candidate
		for ti, tr := range t.tracks {
			for di := range detections {
				dx := tr.CentroidX - centroids[di][0]
				dy := tr.CentroidY - centroids[di][1]
				dist := math.Sqrt(dx*dx + dy*dy)
				if dist <= t.maxDistance {
					candidates = append(candidates, candidate{dist, ti, di})
				}
			}
		}

		// Ascending distance; exact ties resolved by track insertion order,
		// then detection input order, so matching is deterministic.
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].dist != candidates[j].dist {
				return candidates[i].dist < candidates[j].dist
			}
			if candidates[i].trackIdx != candidates[j].trackIdx {
				return candidates[i].trackIdx < candidates[j].trackIdx
			}
			return candidates[i].detIdx < candidates[j].detIdx
		})

		for _, c := range candidates {
			if matchedTracks[c.trackIdx] || assignedTrack[c.detIdx] != -1 {
				continue
			}
			matchedTracks[c.trackIdx] = true
			assignedTrack[c.detIdx] = c.trackIdx
		}
	}

	out := make([]models.TrackedDetection, len(detections))
	for di, d := range detections {
		var tr *Track
		if ti := assignedTrack[di]; ti >= 0 {
			tr = t.tracks[ti]
		} else {
			tr = t.register()
		}
		cx, cy := d.Box.Centroid()
		tr.CentroidX = cx
		tr.CentroidY = cy
		tr.Label = d.Label
		tr.LastSeenFrame = frameIndex
		tr.MissedCount = 0

		out[di] = models.TrackedDetection{Detection: d, TrackID: tr.ID}
	}

	// Age out tracks that saw no detection this frame.
	kept := t.tracks[:0]
	for ti, tr := range t.tracks {
		if matchedTracks[ti] || tr.LastSeenFrame == frameIndex {
			kept = append(kept, tr)
			continue
		}
		tr.MissedCount++
		if tr.MissedCount > t.maxMissed {
			t.evicted = append(t.evicted, tr.ID)
			continue
		}
		kept = append(kept, tr)
	}
	t.tracks = kept

	return out
}

// register opens a new track with a fresh, never-reused ID.
func (t *Tracker) register() *Track {
	tr := &Track{ID: fmt.Sprintf("track_%d", t.nextID)}
	t.nextID++
	t.tracks = append(t.tracks, tr)
	return tr
}

// DrainEvicted returns the IDs of tracks evicted since the last call, so the
// caller can release per-track state (cooldown records).
func (t *Tracker) DrainEvicted() []string {
	if len(t.evicted) == 0 {
		return nil
	}
	out := t.evicted
	t.evicted = nil
	return out
}
