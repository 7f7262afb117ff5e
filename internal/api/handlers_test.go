package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/maskguard/maskguard/internal/alert"
	"github.com/maskguard/maskguard/internal/detect"
	"github.com/maskguard/maskguard/internal/pipeline"
	"github.com/maskguard/maskguard/internal/storage"
	"github.com/maskguard/maskguard/internal/track"
	"github.com/maskguard/maskguard/internal/video"
	"github.com/maskguard/maskguard/pkg/logging"
	"github.com/maskguard/maskguard/pkg/models"
	"github.com/maskguard/maskguard/pkg/store"
)

// stubSource yields synthetic frames for job tests.
type stubSource struct {
	total int
	pos   int
}

func (s *stubSource) TotalFrames() int { return s.total }
func (s *stubSource) Next() (image.Image, error) {
	if s.pos >= s.total {
		return nil, io.EOF
	}
	s.pos++
	return image.NewRGBA(image.Rect(0, 0, 64, 64)), nil
}
func (s *stubSource) Close() error { return nil }

type stubOpener struct{}

func (stubOpener) Open(string, int) (video.Source, error) {
	return &stubSource{total: 3}, nil
}

// stubEncoder replaces the ffmpeg assembly step with a placeholder file.
type stubEncoder struct{}

func (stubEncoder) EncodeVideo(frameDir, outputPath string, fps int) error {
	return os.WriteFile(outputPath, []byte("mp4"), 0o644)
}

type testEnv struct {
	router *mux.Router
	events store.EventStore
}

func newTestEnv(t *testing.T, detector detect.Detector) *testEnv {
	t.Helper()
	log := logging.New(logging.ERROR, false)
	events := store.NewMemoryStore()

	dir := t.TempDir()
	files, err := storage.New(dir+"/uploads", dir+"/outputs", dir+"/captures")
	if err != nil {
		t.Fatalf("storage setup failed: %v", err)
	}

	violations := map[models.Label]bool{
		models.LabelNoMask:        true,
		models.LabelMaskIncorrect: true,
	}

	manager := video.NewManager(video.ManagerOptions{
		Opener:  stubOpener{},
		Encoder: stubEncoder{},
		NewPipeline: func(source models.EventSource) *pipeline.Pipeline {
			return pipeline.New(pipeline.Options{
				Source:   source,
				Detector: detector,
				Tracker:  track.New(75.0, 30),
				Gate:     alert.NewGate(10*time.Second, violations),
				Events:   events,
				Logger:   log,
			})
		},
		OutputPath: files.OutputPath,
		Workers:    1,
		QueueSize:  4,
		Logger:     log,
	})
	manager.Start()
	t.Cleanup(manager.Stop)

	h := NewHandler(HandlerOptions{
		Events:        events,
		Manager:       manager,
		Storage:       files,
		Detector:      detector,
		Violations:    violations,
		MaxVideoBytes: 1 << 20,
		MaxImageBytes: 1 << 20,
		Logger:        log,
	})

	r := mux.NewRouter()
	h.RegisterRoutes(r)
	return &testEnv{router: r, events: events}
}

func noMaskDetector() detect.Detector {
	return detect.Func(func(context.Context, image.Image) ([]models.Detection, error) {
		return []models.Detection{{
			Box:        models.Box{X1: 10, Y1: 10, X2: 40, Y2: 40},
			Label:      models.LabelNoMask,
			Confidence: 0.93,
		}}, nil
	})
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("multipart setup failed: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("multipart write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("multipart close failed: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64)), nil); err != nil {
		t.Fatalf("jpeg encode failed: %v", err)
	}
	return buf.Bytes()
}

func doRequest(env *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, noMaskDetector())

	rr := doRequest(env, httptest.NewRequest("GET", "/api/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body map[string]string
	json.Unmarshal(rr.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestDetectImage(t *testing.T) {
	env := newTestEnv(t, noMaskDetector())

	body, contentType := multipartBody(t, "file", "face.jpg", jpegBytes(t))
	req := httptest.NewRequest("POST", "/api/detect/image", body)
	req.Header.Set("Content-Type", contentType)

	rr := doRequest(env, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Detections []models.Detection `json:"detections"`
		Summary    struct {
			TotalFaces  int            `json:"total_faces"`
			LabelCounts map[string]int `json:"label_counts"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if resp.Summary.TotalFaces != 1 || resp.Summary.LabelCounts["NO_MASK"] != 1 {
		t.Errorf("unexpected summary: %+v", resp.Summary)
	}

	// The violation was logged with source=image and no track identity.
	events, _ := env.events.QueryEvents(store.EventFilter{})
	if len(events) != 1 {
		t.Fatalf("expected 1 logged event, got %d", len(events))
	}
	if events[0].Source != models.SourceImage || events[0].TrackID != "" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}

func TestDetectImageRejectsBadUpload(t *testing.T) {
	env := newTestEnv(t, noMaskDetector())

	// No multipart body at all.
	rr := doRequest(env, httptest.NewRequest("POST", "/api/detect/image", strings.NewReader("junk")))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing file: status = %d, want 400", rr.Code)
	}

	// A file that is not an image.
	body, contentType := multipartBody(t, "file", "notes.txt", []byte("not an image"))
	req := httptest.NewRequest("POST", "/api/detect/image", body)
	req.Header.Set("Content-Type", contentType)
	rr = doRequest(env, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("non-image: status = %d, want 400", rr.Code)
	}
}

func TestVideoJobLifecycle(t *testing.T) {
	env := newTestEnv(t, noMaskDetector())

	body, contentType := multipartBody(t, "file", "clip.mp4", []byte("fake video bytes"))
	req := httptest.NewRequest("POST", "/api/jobs/video", body)
	req.Header.Set("Content-Type", contentType)

	rr := doRequest(env, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	var created struct {
		JobID string `json:"job_id"`
	}
	json.Unmarshal(rr.Body.Bytes(), &created)
	if created.JobID == "" {
		t.Fatal("response missing job_id")
	}

	// Poll until the stub video completes.
	deadline := time.Now().Add(5 * time.Second)
	var job models.VideoJob
	for {
		rr = doRequest(env, httptest.NewRequest("GET", "/api/jobs/"+created.JobID, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("get job status = %d", rr.Code)
		}
		json.Unmarshal(rr.Body.Bytes(), &job)
		if models.IsTerminalJobStatus(job.Status) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("job never settled, status %s", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if job.Status != models.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed (error %q)", job.Status, job.Error)
	}
	if job.Summary == nil || job.Summary.ProcessedFrames != 3 {
		t.Errorf("unexpected summary: %+v", job.Summary)
	}

	// Listing includes the job.
	rr = doRequest(env, httptest.NewRequest("GET", "/api/jobs", nil))
	var list struct {
		Jobs []models.VideoJob `json:"jobs"`
	}
	json.Unmarshal(rr.Body.Bytes(), &list)
	if len(list.Jobs) != 1 || list.Jobs[0].ID != created.JobID {
		t.Errorf("unexpected job list: %+v", list.Jobs)
	}

	// Cancelling a completed job conflicts.
	rr = doRequest(env, httptest.NewRequest("POST", "/api/jobs/"+created.JobID+"/cancel", nil))
	if rr.Code != http.StatusConflict {
		t.Errorf("cancel of completed job: status = %d, want 409", rr.Code)
	}
}

func TestVideoJobValidation(t *testing.T) {
	env := newTestEnv(t, noMaskDetector())

	// Unknown job.
	rr := doRequest(env, httptest.NewRequest("GET", "/api/jobs/unknown", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown job: status = %d, want 404", rr.Code)
	}
	rr = doRequest(env, httptest.NewRequest("POST", "/api/jobs/unknown/cancel", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("cancel unknown job: status = %d, want 404", rr.Code)
	}

	// Invalid sample_fps.
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, _ := w.CreateFormFile("file", "clip.mp4")
	part.Write([]byte("fake"))
	w.WriteField("sample_fps", "-1")
	w.Close()
	req := httptest.NewRequest("POST", "/api/jobs/video", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rr = doRequest(env, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("negative sample_fps: status = %d, want 400", rr.Code)
	}
}

func TestUploadSizeLimit(t *testing.T) {
	env := newTestEnv(t, noMaskDetector())

	big := make([]byte, 2<<20) // above the 1 MiB test limit
	body, contentType := multipartBody(t, "file", "huge.mp4", big)
	req := httptest.NewRequest("POST", "/api/jobs/video", body)
	req.Header.Set("Content-Type", contentType)

	rr := doRequest(env, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}

func TestEventsEndpoints(t *testing.T) {
	env := newTestEnv(t, noMaskDetector())

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seed := []models.Event{
		{Timestamp: base, Source: models.SourceLive, Label: models.LabelNoMask, Confidence: 0.9, TrackID: "track_0"},
		{Timestamp: base.Add(time.Minute), Source: models.SourceVideo, Label: models.LabelMaskIncorrect, Confidence: 0.8, TrackID: "track_1"},
	}
	for i := range seed {
		if _, err := env.events.AppendEvent(&seed[i]); err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}

	rr := doRequest(env, httptest.NewRequest("GET", "/api/events?source=live", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var list struct {
		Events []models.Event `json:"events"`
		Count  int            `json:"count"`
	}
	json.Unmarshal(rr.Body.Bytes(), &list)
	if list.Count != 1 || list.Events[0].Source != models.SourceLive {
		t.Errorf("unexpected filtered list: %+v", list)
	}

	// Invalid filters reject cleanly.
	for _, q := range []string{"?start=tomorrow", "?limit=-1", "?end=xyz"} {
		rr = doRequest(env, httptest.NewRequest("GET", "/api/events"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("query %q: status = %d, want 400", q, rr.Code)
		}
	}

	// CSV export carries the fixed header and both rows.
	rr = doRequest(env, httptest.NewRequest("GET", "/api/events/export", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("export status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("export Content-Type = %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "timestamp,source,label,confidence,track_id,snapshot_ref" {
		t.Errorf("unexpected csv header: %q", lines[0])
	}

	// Stats aggregate both dimensions.
	rr = doRequest(env, httptest.NewRequest("GET", "/api/stats", nil))
	var stats store.EventStats
	json.Unmarshal(rr.Body.Bytes(), &stats)
	if stats.Total != 2 || stats.ByLabel[models.LabelNoMask] != 1 || stats.BySource[models.SourceVideo] != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}
