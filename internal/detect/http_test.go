package detect

import (
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/maskguard/maskguard/pkg/models"
)

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func TestHTTPDetectorRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/predict" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file part: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer file.Close()
		if _, err := jpeg.Decode(file); err != nil {
			t.Errorf("frame is not a JPEG: %v", err)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"box": []int{10, 20, 110, 140}, "label": "NO_MASK", "confidence": 0.87},
			},
		})
	}))
	defer srv.Close()

	d := NewHTTPDetector(srv.URL)
	detections, err := d.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	got := detections[0]
	want := models.Detection{
		Box:        models.Box{X1: 10, Y1: 20, X2: 110, Y2: 140},
		Label:      models.LabelNoMask,
		Confidence: 0.87,
	}
	if got != want {
		t.Errorf("detection = %+v, want %+v", got, want)
	}
}

func TestHTTPDetectorErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}},
		{"malformed box", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"detections": []map[string]any{
					{"box": []int{100, 20, 10, 140}, "label": "NO_MASK", "confidence": 0.8},
				},
			})
		}},
		{"unknown label", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"detections": []map[string]any{
					{"box": []int{10, 20, 110, 140}, "label": "HELMET", "confidence": 0.8},
				},
			})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			d := NewHTTPDetector(srv.URL)
			if _, err := d.Detect(context.Background(), testFrame()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestStubDetector(t *testing.T) {
	s := NewStubDetector()

	// Tiny frames yield nothing.
	small, err := s.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 32, 32)))
	if err != nil || len(small) != 0 {
		t.Errorf("small frame: got %v detections, err %v", small, err)
	}

	detections, err := s.Detect(context.Background(), testFrame())
	if err != nil {
		t.Fatalf("detect failed: %v", err)
	}
	if len(detections) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(detections))
	}
	if detections[0].Label != models.LabelMaskOn {
		t.Errorf("stub label = %s, want MASK_ON", detections[0].Label)
	}
	if err := detections[0].Box.Validate(); err != nil {
		t.Errorf("stub box invalid: %v", err)
	}
}
