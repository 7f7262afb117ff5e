package models

import (
	"encoding/json"
	"fmt"
)

// Label is a classification outcome produced by the mask classifier.
type Label string

const (
	LabelMaskOn        Label = "MASK_ON"
	LabelNoMask        Label = "NO_MASK"
	LabelMaskIncorrect Label = "MASK_INCORRECT"
)

// AllLabels returns the closed set of classification outcomes.
func AllLabels() []Label {
	return []Label{LabelMaskOn, LabelNoMask, LabelMaskIncorrect}
}

// Valid reports whether l is a member of the closed label set.
func (l Label) Valid() bool {
	switch l {
	case LabelMaskOn, LabelNoMask, LabelMaskIncorrect:
		return true
	}
	return false
}

// DefaultViolationLabels are the labels treated as alert-worthy unless
// overridden by configuration.
func DefaultViolationLabels() []Label {
	return []Label{LabelNoMask, LabelMaskIncorrect}
}

// Box is a face bounding box in pixel coordinates.
// Invariant: X1 < X2 and Y1 < Y2.
type Box struct {
	X1, Y1, X2, Y2 int
}

// Validate checks the box coordinate invariant.
func (b Box) Validate() error {
	if b.X1 >= b.X2 || b.Y1 >= b.Y2 {
		return fmt.Errorf("invalid box [%d %d %d %d]: require x1<x2 and y1<y2", b.X1, b.Y1, b.X2, b.Y2)
	}
	return nil
}

// Centroid returns the center point of the box.
func (b Box) Centroid() (float64, float64) {
	return float64(b.X1+b.X2) / 2.0, float64(b.Y1+b.Y2) / 2.0
}

// MarshalJSON encodes the box in wire form: [x1, y1, x2, y2].
func (b Box) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]int{b.X1, b.Y1, b.X2, b.Y2})
}

// UnmarshalJSON decodes the [x1, y1, x2, y2] wire form.
func (b *Box) UnmarshalJSON(data []byte) error {
	var coords [4]int
	if err := json.Unmarshal(data, &coords); err != nil {
		return fmt.Errorf("box must be [x1, y1, x2, y2]: %w", err)
	}
	b.X1, b.Y1, b.X2, b.Y2 = coords[0], coords[1], coords[2], coords[3]
	return nil
}

// Detection is one raw face observation produced by the detector for a
// single frame. It is ephemeral: folded into a track or logged, then dropped.
type Detection struct {
	Box        Box     `json:"box"`
	Label      Label   `json:"label"`
	Confidence float64 `json:"confidence"`
}

// TrackedDetection is a detection augmented with a stable track identity.
type TrackedDetection struct {
	Detection
	TrackID string `json:"track_id"`
}
