package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maskguard/maskguard/internal/metrics"
	"github.com/maskguard/maskguard/internal/pipeline"
	"github.com/maskguard/maskguard/pkg/logging"
	"github.com/maskguard/maskguard/pkg/models"
)

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueFull is returned when the submission queue cannot accept more
	// jobs; the queue is bounded so an upload burst cannot exhaust memory.
	ErrQueueFull = errors.New("job queue is full")
	// ErrManagerStopped is returned for submissions after shutdown began.
	ErrManagerStopped = errors.New("job manager is stopped")
)

// PipelineFactory builds a fresh pipeline (tracker + gate scoped to one job)
// for each executing job.
type PipelineFactory func(source models.EventSource) *pipeline.Pipeline

// ManagerOptions configures the job manager.
type ManagerOptions struct {
	Opener           Opener
	Encoder          Encoder
	NewPipeline      PipelineFactory
	OutputPath       func(filename string) string
	Workers          int
	QueueSize        int
	DefaultSampleFPS int
	Logger           *logging.Logger
	Metrics          *metrics.Metrics
}

// Manager owns the registry of video analysis jobs and the bounded worker
// pool executing them. Jobs live in memory for the process lifetime: a
// restart loses job history, which is an accepted limitation.
type Manager struct {
	mu      sync.Mutex
	jobs    map[string]*models.VideoJob
	cancels map[string]chan struct{}

	queue      chan string
	quit       chan struct{}
	wg         sync.WaitGroup
	opener     Opener
	encoder    Encoder
	newPipe    PipelineFactory
	outputPath func(filename string) string
	workers    int
	defaultFPS int
	log        *logging.Logger
	metrics    *metrics.Metrics
	stopped    bool
}

// NewManager creates a job manager. Call Start to launch the worker pool.
func NewManager(opts ManagerOptions) *Manager {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := opts.QueueSize
	if queueSize < 1 {
		queueSize = 64
	}
	defaultFPS := opts.DefaultSampleFPS
	if defaultFPS < 1 {
		defaultFPS = 5
	}
	log := opts.Logger
	if log == nil {
		log = logging.New(logging.INFO, false)
	}
	encoder := opts.Encoder
	if encoder == nil {
		encoder = NewFFmpegEncoder("")
	}
	return &Manager{
		jobs:       make(map[string]*models.VideoJob),
		cancels:    make(map[string]chan struct{}),
		queue:      make(chan string, queueSize),
		quit:       make(chan struct{}),
		opener:     opts.Opener,
		encoder:    encoder,
		newPipe:    opts.NewPipeline,
		outputPath: opts.OutputPath,
		workers:    workers,
		defaultFPS: defaultFPS,
		log:        log.WithComponent("video"),
		metrics:    opts.Metrics,
	}
}

// Start launches the worker pool.
func (m *Manager) Start() {
	m.log.Info("starting worker pool", map[string]interface{}{"workers": m.workers})
	for i := 0; i < m.workers; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop cancels in-flight jobs and waits for the workers to drain. Queued
// jobs that never started are cancelled in place.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	close(m.quit)
	for id, ch := range m.cancels {
		job := m.jobs[id]
		if job != nil && !models.IsTerminalJobStatus(job.Status) {
			close(ch)
			delete(m.cancels, id)
			if job.Status == models.JobStatusQueued {
				m.transitionLocked(job, models.JobStatusCancelled)
			}
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
	m.log.Info("worker pool stopped")
}

// Submit creates a job in queued state and schedules it for execution.
func (m *Manager) Submit(videoRef string, sampleFPS int) (string, error) {
	if sampleFPS < 1 {
		sampleFPS = m.defaultFPS
	}

	job := &models.VideoJob{
		ID:        uuid.New().String(),
		VideoRef:  videoRef,
		SampleFPS: sampleFPS,
		Status:    models.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return "", ErrManagerStopped
	}
	m.jobs[job.ID] = job
	m.cancels[job.ID] = make(chan struct{})
	m.mu.Unlock()

	select {
	case m.queue <- job.ID:
	default:
		m.mu.Lock()
		delete(m.jobs, job.ID)
		delete(m.cancels, job.ID)
		m.mu.Unlock()
		return "", ErrQueueFull
	}

	m.log.Info("job submitted", map[string]interface{}{
		"job_id":     job.ID,
		"video_ref":  videoRef,
		"sample_fps": sampleFPS,
	})
	return job.ID, nil
}

// Get returns a snapshot of the job, safe to read while the worker mutates
// the original.
func (m *Manager) Get(id string) (*models.VideoJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// List returns snapshots of all jobs, newest first.
func (m *Manager) List() []*models.VideoJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.VideoJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		out = append(out, job.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Cancel requests cancellation. Queued jobs are cancelled immediately;
// processing jobs stop at the next frame boundary. Returns false for unknown
// or already-terminal jobs.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || models.IsTerminalJobStatus(job.Status) {
		return false
	}

	if ch, ok := m.cancels[id]; ok {
		close(ch)
		delete(m.cancels, id)
	}
	if job.Status == models.JobStatusQueued {
		// Worker will skip it; settle the state here.
		m.transitionLocked(job, models.JobStatusCancelled)
	}
	m.log.Info("job cancel requested", map[string]interface{}{"job_id": id})
	return true
}

// transitionLocked applies a validated state transition. Caller holds m.mu.
func (m *Manager) transitionLocked(job *models.VideoJob, to models.JobStatus) {
	if err := models.ValidateJobTransition(job.Status, to); err != nil {
		// A violated transition table is a programming error worth loud logs,
		// but must never take the process down.
		m.log.Error("rejected job state transition", map[string]interface{}{
			"job_id": job.ID,
			"error":  err.Error(),
		})
		return
	}
	job.Status = to
	if models.IsTerminalJobStatus(to) {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	if m.metrics != nil {
		m.metrics.JobTransitions.WithLabelValues(string(to)).Inc()
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.quit:
			return
		case id := <-m.queue:
			m.runJob(id)
		}
	}
}

// runJob executes one job end to end. Cancellation is cooperative, checked
// at each sampled-frame boundary; failures capture the error and leave
// partial progress for diagnostics.
func (m *Manager) runJob(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != models.JobStatusQueued {
		// Cancelled while queued, or gone.
		m.mu.Unlock()
		return
	}
	m.transitionLocked(job, models.JobStatusProcessing)
	now := time.Now().UTC()
	job.StartedAt = &now
	cancelCh := m.cancels[id]
	videoRef := job.VideoRef
	sampleFPS := job.SampleFPS
	m.mu.Unlock()

	log := m.log.WithField("job_id", id)
	log.Info("job processing started")

	src, err := m.opener.Open(videoRef, sampleFPS)
	if err != nil {
		m.failJob(id, fmt.Errorf("failed to open video: %w", err))
		return
	}
	defer src.Close()

	total := src.TotalFrames()
	if total <= 0 {
		m.failJob(id, errors.New("video contains no frames"))
		return
	}

	annotator, err := NewAnnotator(m.encoder,
		m.outputPath(fmt.Sprintf("annotated_%s.mp4", id)),
		m.outputPath(fmt.Sprintf("annotations_%s.jsonl", id)),
		sampleFPS)
	if err != nil {
		m.failJob(id, err)
		return
	}

	pipe := m.newPipe(models.SourceVideo)
	summary := &models.JobSummary{
		TotalFrames: total,
		LabelCounts: make(map[models.Label]int),
	}

	ctx := context.Background()
	for frameIdx := 0; ; frameIdx++ {
		select {
		case <-cancelCh:
			annotator.Abort()
			m.settleCancelled(id, summary)
			return
		default:
		}

		img, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			annotator.Abort()
			m.failJob(id, fmt.Errorf("frame read failed: %w", err))
			return
		}

		result := pipe.ProcessFrame(ctx, img, frameIdx, time.Now())
		if err := annotator.WriteFrame(frameIdx, img, result); err != nil {
			annotator.Abort()
			m.failJob(id, fmt.Errorf("artifact write failed: %w", err))
			return
		}

		summary.ProcessedFrames++
		for _, d := range result.Detections {
			summary.LabelCounts[d.Label]++
			if d.Alert {
				summary.TotalAlerts++
			}
		}

		m.updateProgress(id, summary.ProcessedFrames, total)
	}

	videoRef, recordRef, err := annotator.Finish()
	if err != nil {
		m.failJob(id, fmt.Errorf("annotated video assembly failed: %w", err))
		return
	}

	m.mu.Lock()
	// A cancel that raced the final frame still wins: the job must never
	// report completed after Cancel returned true.
	cancelled := false
	select {
	case <-cancelCh:
		cancelled = true
	default:
	}
	if job, ok := m.jobs[id]; ok && job.Status == models.JobStatusProcessing {
		job.Summary = summary
		if cancelled {
			m.transitionLocked(job, models.JobStatusCancelled)
		} else {
			job.OutputVideoRef = videoRef
			job.AnnotationsRef = recordRef
			job.Progress = 100
			m.transitionLocked(job, models.JobStatusCompleted)
		}
	}
	delete(m.cancels, id)
	m.mu.Unlock()

	if cancelled {
		log.Info("job cancelled")
		return
	}

	log.Info("job completed", map[string]interface{}{
		"frames": summary.ProcessedFrames,
		"alerts": summary.TotalAlerts,
	})
}

// updateProgress records monotonically non-decreasing progress, capped at 99
// until completion so 100 is reached exactly when the job completes.
func (m *Manager) updateProgress(id string, processed, total int) {
	progress := processed * 100 / total
	if progress > 99 {
		progress = 99
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok && progress > job.Progress {
		job.Progress = progress
	}
}

func (m *Manager) settleCancelled(id string, summary *models.JobSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || models.IsTerminalJobStatus(job.Status) {
		return
	}
	job.Summary = summary
	m.transitionLocked(job, models.JobStatusCancelled)
	delete(m.cancels, id)
	m.log.Info("job cancelled", map[string]interface{}{"job_id": id})
}

func (m *Manager) failJob(id string, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || models.IsTerminalJobStatus(job.Status) {
		return
	}
	job.Error = cause.Error()
	m.transitionLocked(job, models.JobStatusFailed)
	delete(m.cancels, id)
	m.log.Error("job failed", map[string]interface{}{"job_id": id, "error": cause.Error()})
}
