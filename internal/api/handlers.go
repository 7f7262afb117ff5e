package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/lo"

	"github.com/maskguard/maskguard/internal/alert"
	"github.com/maskguard/maskguard/internal/detect"
	"github.com/maskguard/maskguard/internal/storage"
	"github.com/maskguard/maskguard/internal/video"
	"github.com/maskguard/maskguard/pkg/logging"
	"github.com/maskguard/maskguard/pkg/models"
	"github.com/maskguard/maskguard/pkg/store"
)

// Handler serves the REST surface: job management, single-shot image
// detection, and the event log.
type Handler struct {
	events   store.EventStore
	manager  *video.Manager
	storage  *storage.Service
	detector detect.Detector
	gate     *alert.Gate

	maxVideoBytes    int64
	maxImageBytes    int64
	snapshotsEnabled bool

	log *logging.Logger
}

// HandlerOptions configures the REST handler.
type HandlerOptions struct {
	Events           store.EventStore
	Manager          *video.Manager
	Storage          *storage.Service
	Detector         detect.Detector
	Violations       map[models.Label]bool
	MaxVideoBytes    int64
	MaxImageBytes    int64
	SnapshotsEnabled bool
	Logger           *logging.Logger
}

// NewHandler creates the REST handler.
func NewHandler(opts HandlerOptions) *Handler {
	log := opts.Logger
	if log == nil {
		log = logging.New(logging.INFO, false)
	}
	return &Handler{
		events:   opts.Events,
		manager:  opts.Manager,
		storage:  opts.Storage,
		detector: opts.Detector,
		// Single-shot image detections carry no track identity, so the gate
		// only contributes the violation-label decision here.
		gate:             alert.NewGate(0, opts.Violations),
		maxVideoBytes:    opts.MaxVideoBytes,
		maxImageBytes:    opts.MaxImageBytes,
		snapshotsEnabled: opts.SnapshotsEnabled,
		log:              log.WithComponent("api"),
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/health", h.Health).Methods("GET")

	r.HandleFunc("/api/detect/image", h.DetectImage).Methods("POST")

	r.HandleFunc("/api/jobs/video", h.CreateVideoJob).Methods("POST")
	r.HandleFunc("/api/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/api/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/api/jobs/{id}/cancel", h.CancelJob).Methods("POST")

	r.HandleFunc("/api/events", h.ListEvents).Methods("GET")
	r.HandleFunc("/api/events/export", h.ExportEventsCSV).Methods("GET")
	r.HandleFunc("/api/stats", h.Stats).Methods("GET")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Health reports liveness plus event-store reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.events.HealthCheck(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// CreateVideoJob accepts a multipart video upload and schedules analysis.
func (h *Handler) CreateVideoJob(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer file.Close()

	path, err := h.storage.SaveUpload(file, header.Filename, h.maxVideoBytes)
	if err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "video exceeds size limit")
			return
		}
		h.log.Error("upload save failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	sampleFPS := 0
	if v := r.FormValue("sample_fps"); v != "" {
		sampleFPS, err = strconv.Atoi(v)
		if err != nil || sampleFPS < 1 {
			writeError(w, http.StatusBadRequest, "sample_fps must be a positive integer")
			return
		}
	}

	jobID, err := h.manager.Submit(path, sampleFPS)
	if err != nil {
		if errors.Is(err, video.ErrQueueFull) {
			writeError(w, http.StatusTooManyRequests, "job queue is full, retry later")
			return
		}
		h.log.Error("job submit failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// GetJob returns a snapshot of one job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	job, err := h.manager.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs returns snapshots of all jobs, newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.manager.List()})
}

// CancelJob requests cooperative cancellation.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.manager.Get(id); err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	cancelled := h.manager.Cancel(id)
	status := http.StatusOK
	if !cancelled {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]bool{"cancelled": cancelled})
}

// DetectImage runs single-shot detection on an uploaded image. Detections
// carry no track identity, so every violation is alert-worthy.
func (h *Handler) DetectImage(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file upload")
		return
	}
	defer file.Close()

	path, err := h.storage.SaveUpload(file, header.Filename, h.maxImageBytes)
	if err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image exceeds size limit")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	img, err := openImage(path)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid image file")
		return
	}

	detections, err := h.detector.Detect(r.Context(), img)
	if err != nil {
		h.log.Warn("detector failed on image upload", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusBadGateway, "detection failed")
		return
	}

	now := time.Now().UTC()
	for _, d := range detections {
		if !h.gate.ShouldAlert("", d.Label, now) {
			continue
		}
		var snapshotRef string
		if h.snapshotsEnabled {
			ref, err := h.storage.SaveSnapshot(img, d.Box, "image")
			if err != nil {
				h.log.Warn("snapshot save failed", map[string]interface{}{"error": err.Error()})
			} else {
				snapshotRef = ref
			}
		}
		event := &models.Event{
			Timestamp:   now,
			Source:      models.SourceImage,
			Label:       d.Label,
			Confidence:  d.Confidence,
			SnapshotRef: snapshotRef,
			Meta:        map[string]any{"box": d.Box, "filename": header.Filename},
		}
		if _, err := h.events.AppendEvent(event); err != nil {
			h.log.Warn("event append failed", map[string]interface{}{"error": err.Error()})
		}
	}

	labelCounts := lo.CountValuesBy(detections, func(d models.Detection) models.Label {
		return d.Label
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"detections": detections,
		"summary": map[string]any{
			"total_faces":  len(detections),
			"label_counts": labelCounts,
		},
	})
}

func parseEventFilter(r *http.Request) (store.EventFilter, error) {
	q := r.URL.Query()
	filter := store.EventFilter{
		Source: models.EventSource(q.Get("source")),
		Label:  models.Label(q.Get("label")),
	}

	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid start time %q", v)
		}
		filter.Start = t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, fmt.Errorf("invalid end time %q", v)
		}
		filter.End = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid limit %q", v)
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("invalid offset %q", v)
		}
		filter.Offset = n
	}
	return filter, nil
}

// ListEvents queries the event log with optional filters.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.events.QueryEvents(filter)
	if err != nil {
		h.log.Error("event query failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to query events")
		return
	}
	if events == nil {
		events = []models.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

// ExportEventsCSV streams the filtered event log as a CSV attachment.
func (h *Handler) ExportEventsCSV(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="events.csv"`)
	if err := h.events.ExportCSV(w, filter); err != nil {
		h.log.Error("csv export failed", map[string]interface{}{"error": err.Error()})
	}
}

// Stats aggregates the event log by label and source.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.events.EventStats(filter)
	if err != nil {
		h.log.Error("stats query failed", map[string]interface{}{"error": err.Error()})
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
