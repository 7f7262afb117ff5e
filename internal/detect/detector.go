package detect

import (
	"context"
	"image"
	"sync"

	"github.com/maskguard/maskguard/pkg/models"
)

// Detector is the external face-detection/mask-classification collaborator.
// Given one frame it returns raw detections; it holds no tracking state.
type Detector interface {
	Detect(ctx context.Context, frame image.Image) ([]models.Detection, error)
}

// Func adapts a plain function to the Detector interface.
type Func func(ctx context.Context, frame image.Image) ([]models.Detection, error)

// Detect implements Detector.
func (f Func) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	return f(ctx, frame)
}

type serialized struct {
	mu sync.Mutex
	d  Detector
}

// Serialized wraps a detector that is not safe for reentrant calls (a single
// loaded model shared by all sessions and jobs) behind a mutex. Tracker and
// gate state are unaffected; only adapter invocation is serialized.
func Serialized(d Detector) Detector {
	return &serialized{d: d}
}

func (s *serialized) Detect(ctx context.Context, frame image.Image) ([]models.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.Detect(ctx, frame)
}
