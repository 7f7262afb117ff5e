package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/maskguard/maskguard/internal/alert"
	"github.com/maskguard/maskguard/internal/api"
	"github.com/maskguard/maskguard/internal/detect"
	"github.com/maskguard/maskguard/internal/live"
	"github.com/maskguard/maskguard/internal/metrics"
	"github.com/maskguard/maskguard/internal/pipeline"
	"github.com/maskguard/maskguard/internal/storage"
	"github.com/maskguard/maskguard/internal/track"
	"github.com/maskguard/maskguard/internal/video"
	"github.com/maskguard/maskguard/pkg/config"
	"github.com/maskguard/maskguard/pkg/logging"
	"github.com/maskguard/maskguard/pkg/models"
	"github.com/maskguard/maskguard/pkg/shutdown"
	"github.com/maskguard/maskguard/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the monitoring service",
	Long: `Start the maskguard service: REST API, live websocket endpoint,
video job worker pool, and Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	log.Info("starting maskguard", map[string]interface{}{
		"listen_addr": cfg.ListenAddr,
		"db_path":     cfg.DBPath,
	})

	events, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}

	files, err := storage.New(cfg.UploadsDir, cfg.OutputsDir, cfg.CapturesDir)
	if err != nil {
		events.Close()
		return err
	}

	m := metrics.New()

	var detector detect.Detector
	if cfg.DetectorURL != "" {
		detector = detect.NewHTTPDetector(cfg.DetectorURL)
		log.Info("using remote detector", map[string]interface{}{"url": cfg.DetectorURL})
	} else {
		detector = detect.NewStubDetector()
		log.Warn("no detector_url configured, using built-in stub detector")
	}
	if cfg.SerializeDetector {
		detector = detect.Serialized(detector)
	}

	// Each session and job gets its own tracker and gate so identities and
	// cooldown state never leak between streams.
	newPipeline := func(source models.EventSource) *pipeline.Pipeline {
		return pipeline.New(pipeline.Options{
			Source:           source,
			Detector:         detector,
			Tracker:          track.New(cfg.MatchMaxDistance, cfg.MaxMissedFrames),
			Gate:             alert.NewGate(cfg.Cooldown(), cfg.ViolationSet()),
			Events:           events,
			Snapshots:        files,
			SnapshotsEnabled: cfg.SnapshotsEnabled,
			Logger:           log,
			Metrics:          m,
		})
	}

	manager := video.NewManager(video.ManagerOptions{
		Opener:           video.NewFFmpegOpener(cfg.FFmpegPath),
		Encoder:          video.NewFFmpegEncoder(cfg.FFmpegPath),
		NewPipeline:      newPipeline,
		OutputPath:       files.OutputPath,
		Workers:          cfg.WorkerPoolSize,
		QueueSize:        cfg.JobQueueSize,
		DefaultSampleFPS: cfg.VideoSampleFPS,
		Logger:           log,
		Metrics:          m,
	})
	manager.Start()

	liveHandler := live.NewHandler(func() *pipeline.Pipeline {
		return newPipeline(models.SourceLive)
	}, log, m)

	restHandler := api.NewHandler(api.HandlerOptions{
		Events:           events,
		Manager:          manager,
		Storage:          files,
		Detector:         detector,
		Violations:       cfg.ViolationSet(),
		MaxVideoBytes:    int64(cfg.MaxVideoMB) << 20,
		MaxImageBytes:    int64(cfg.MaxImageMB) << 20,
		SnapshotsEnabled: cfg.SnapshotsEnabled,
		Logger:           log,
	})

	server := api.NewServer(cfg.ListenAddr, restHandler, liveHandler, m.Handler(), log)

	sd := shutdown.New(30*time.Second, log)
	sd.Register(func(ctx context.Context) error { return events.Close() })
	sd.Register(func(ctx context.Context) error { manager.Stop(); return nil })
	sd.Register(func(ctx context.Context) error { return server.Shutdown(ctx) })

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	done := make(chan struct{})
	go func() {
		sd.Wait()
		close(done)
	}()

	select {
	case err := <-errCh:
		// Listener failed before any signal; release the pool and store.
		sd.Shutdown()
		return err
	case <-done:
		return nil
	}
}
