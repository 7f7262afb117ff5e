package detect

import (
	"context"
	"image"

	"github.com/maskguard/maskguard/pkg/models"
)

// StubDetector is a deterministic stand-in for the real model, used in tests
// and model-less deployments. It reports one centered face per frame when the
// frame is large enough, labelled MASK_ON.
type StubDetector struct {
	// MinSize is the smallest frame dimension that yields a detection.
	MinSize int
}

// NewStubDetector returns a stub with sensible defaults.
func NewStubDetector() *StubDetector {
	return &StubDetector{MinSize: 64}
}

// Detect implements Detector.
func (s *StubDetector) Detect(_ context.Context, frame image.Image) ([]models.Detection, error) {
	b := frame.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < s.MinSize || h < s.MinSize {
		return nil, nil
	}

	// Center third of the frame.
	box := models.Box{
		X1: b.Min.X + w/3,
		Y1: b.Min.Y + h/3,
		X2: b.Min.X + 2*w/3,
		Y2: b.Min.Y + 2*h/3,
	}
	return []models.Detection{{
		Box:        box,
		Label:      models.LabelMaskOn,
		Confidence: 0.99,
	}}, nil
}
