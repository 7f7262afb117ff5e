package video

import (
	"bufio"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/maskguard/maskguard/internal/pipeline"
	"github.com/maskguard/maskguard/pkg/models"
)

func testDetection(label models.Label, alerted bool) pipeline.DetectionResult {
	return pipeline.DetectionResult{
		TrackedDetection: models.TrackedDetection{
			Detection: models.Detection{
				Box:        models.Box{X1: 20, Y1: 20, X2: 60, Y2: 60},
				Label:      label,
				Confidence: 0.9,
			},
			TrackID: "track_0",
		},
		Alert: alerted,
	}
}

func TestRenderFrameDrawsBoxes(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 100, 100))
	gray := color.RGBA{R: 128, G: 128, B: 128, A: 255}
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			frame.SetRGBA(x, y, gray)
		}
	}

	det := testDetection(models.LabelNoMask, true)
	rendered := renderFrame(frame, []pipeline.DetectionResult{det})

	want := labelColors[models.LabelNoMask]
	if got := rendered.RGBAAt(20, 20); got != want {
		t.Errorf("top border pixel = %v, want %v", got, want)
	}
	if got := rendered.RGBAAt(59, 59); got != want {
		t.Errorf("bottom border pixel = %v, want %v", got, want)
	}
	if got := rendered.RGBAAt(40, 40); got != gray {
		t.Errorf("box interior = %v, want untouched %v", got, gray)
	}
	// Caption bar sits just above the box.
	if got := rendered.RGBAAt(22, 10); got != want && got != (color.RGBA{R: 255, G: 255, B: 255, A: 255}) {
		t.Errorf("caption area = %v, want bar color or glyph white", got)
	}
	if got := frame.RGBAAt(20, 20); got != gray {
		t.Errorf("source frame mutated: %v", got)
	}
}

func TestRenderFrameEmptyDetections(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 32, 32))
	rendered := renderFrame(frame, nil)
	if rendered.Bounds() != frame.Bounds() {
		t.Errorf("bounds = %v, want %v", rendered.Bounds(), frame.Bounds())
	}
}

func TestAnnotatorProducesVideoAndRecord(t *testing.T) {
	dir := t.TempDir()
	enc := &fakeEncoder{}
	videoPath := filepath.Join(dir, "annotated.mp4")
	recordPath := filepath.Join(dir, "annotations.jsonl")

	a, err := NewAnnotator(enc, videoPath, recordPath, 5)
	if err != nil {
		t.Fatalf("NewAnnotator failed: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := 0; i < 3; i++ {
		result := pipeline.FrameResult{
			Detections: []pipeline.DetectionResult{testDetection(models.LabelNoMask, i == 0)},
			FacesCount: 1,
			Alert:      i == 0,
		}
		if err := a.WriteFrame(i*2, frame, result); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	frameDir := a.frameDir

	videoRef, recordRef, err := a.Finish()
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	if videoRef != videoPath || recordRef != recordPath {
		t.Errorf("artifact refs = %q, %q; want %q, %q", videoRef, recordRef, videoPath, recordPath)
	}
	if frames, fps, _ := enc.stats(); frames != 3 || fps != 5 {
		t.Errorf("encoder saw %d frames at %d fps, want 3 at 5", frames, fps)
	}
	if _, err := os.Stat(videoPath); err != nil {
		t.Errorf("annotated video missing: %v", err)
	}
	if _, err := os.Stat(frameDir); !os.IsNotExist(err) {
		t.Error("render scratch directory should be removed after Finish")
	}

	f, err := os.Open(recordPath)
	if err != nil {
		t.Fatalf("open record failed: %v", err)
	}
	defer f.Close()

	var records []frameAnnotation
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec frameAnnotation
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("bad record line: %v", err)
		}
		records = append(records, rec)
	}
	if len(records) != 3 {
		t.Fatalf("record has %d lines, want 3", len(records))
	}
	if records[0].Frame != 0 || records[1].Frame != 2 || records[2].Frame != 4 {
		t.Error("record lines should carry the source frame indices")
	}
	if !records[0].Alert || records[1].Alert {
		t.Error("alert flags not preserved in record")
	}
	if records[0].Detections[0].TrackID != "track_0" {
		t.Errorf("TrackID = %q, want track_0", records[0].Detections[0].TrackID)
	}
}

func TestAnnotatorAbortKeepsPartialRecord(t *testing.T) {
	dir := t.TempDir()
	enc := &fakeEncoder{}
	recordPath := filepath.Join(dir, "annotations.jsonl")

	a, err := NewAnnotator(enc, filepath.Join(dir, "annotated.mp4"), recordPath, 5)
	if err != nil {
		t.Fatalf("NewAnnotator failed: %v", err)
	}

	frame := image.NewRGBA(image.Rect(0, 0, 64, 64))
	result := pipeline.FrameResult{
		Detections: []pipeline.DetectionResult{testDetection(models.LabelNoMask, true)},
		Alert:      true,
	}
	if err := a.WriteFrame(0, frame, result); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	frameDir := a.frameDir

	a.Abort()

	if _, _, calls := enc.stats(); calls != 0 {
		t.Error("abort must not assemble a video")
	}
	if _, err := os.Stat(frameDir); !os.IsNotExist(err) {
		t.Error("render scratch directory should be removed after Abort")
	}
	data, err := os.ReadFile(recordPath)
	if err != nil {
		t.Fatalf("read record failed: %v", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		t.Error("partial record should survive an abort")
	}
}
