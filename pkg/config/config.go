package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/maskguard/maskguard/pkg/models"
)

// Config holds every tuning knob the detection core consumes. All values can
// come from a YAML file, MASKGUARD_* environment variables, or defaults.
type Config struct {
	// Server
	ListenAddr string
	LogLevel   string
	LogJSON    bool

	// Storage
	DBPath      string
	UploadsDir  string
	OutputsDir  string
	CapturesDir string
	MaxVideoMB  int
	MaxImageMB  int

	// Alerting
	CooldownSeconds  int
	SnapshotsEnabled bool
	ViolationLabels  []string

	// Tracking
	MaxMissedFrames  int
	MatchMaxDistance float64

	// Video jobs
	VideoSampleFPS int
	WorkerPoolSize int
	JobQueueSize   int

	// Detector
	DetectorURL       string // empty selects the built-in stub detector
	SerializeDetector bool
	FFmpegPath        string
}

// Load reads configuration from the optional file at path plus environment
// overrides, falling back to defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8000")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	v.SetDefault("db_path", "data/logs/events.db")
	v.SetDefault("uploads_dir", "data/uploads")
	v.SetDefault("outputs_dir", "data/outputs")
	v.SetDefault("captures_dir", "data/captures")
	v.SetDefault("max_video_mb", 50)
	v.SetDefault("max_image_mb", 10)

	v.SetDefault("cooldown_seconds", 10)
	v.SetDefault("snapshots_enabled", false)
	v.SetDefault("violation_labels", []string{string(models.LabelNoMask), string(models.LabelMaskIncorrect)})

	v.SetDefault("max_missed_frames", 30)
	v.SetDefault("match_max_distance", 75.0)

	v.SetDefault("video_sample_fps", 5)
	v.SetDefault("worker_pool_size", 2)
	v.SetDefault("job_queue_size", 64)

	v.SetDefault("detector_url", "")
	v.SetDefault("serialize_detector", true)
	v.SetDefault("ffmpeg_path", "ffmpeg")

	v.SetEnvPrefix("MASKGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("maskguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/maskguard")
		// Missing config file is fine; defaults and env apply.
		_ = v.ReadInConfig()
	}

	cfg := &Config{
		ListenAddr: v.GetString("listen_addr"),
		LogLevel:   v.GetString("log_level"),
		LogJSON:    v.GetBool("log_json"),

		DBPath:      v.GetString("db_path"),
		UploadsDir:  v.GetString("uploads_dir"),
		OutputsDir:  v.GetString("outputs_dir"),
		CapturesDir: v.GetString("captures_dir"),
		MaxVideoMB:  v.GetInt("max_video_mb"),
		MaxImageMB:  v.GetInt("max_image_mb"),

		CooldownSeconds:  v.GetInt("cooldown_seconds"),
		SnapshotsEnabled: v.GetBool("snapshots_enabled"),
		ViolationLabels:  v.GetStringSlice("violation_labels"),

		MaxMissedFrames:  v.GetInt("max_missed_frames"),
		MatchMaxDistance: v.GetFloat64("match_max_distance"),

		VideoSampleFPS: v.GetInt("video_sample_fps"),
		WorkerPoolSize: v.GetInt("worker_pool_size"),
		JobQueueSize:   v.GetInt("job_queue_size"),

		DetectorURL:       v.GetString("detector_url"),
		SerializeDetector: v.GetBool("serialize_detector"),
		FFmpegPath:        v.GetString("ffmpeg_path"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the core cannot operate with.
func (c *Config) Validate() error {
	if c.CooldownSeconds < 1 {
		return fmt.Errorf("cooldown_seconds must be >= 1, got %d", c.CooldownSeconds)
	}
	if c.MaxMissedFrames < 1 {
		return fmt.Errorf("max_missed_frames must be >= 1, got %d", c.MaxMissedFrames)
	}
	if c.MatchMaxDistance <= 0 {
		return fmt.Errorf("match_max_distance must be > 0, got %v", c.MatchMaxDistance)
	}
	if c.VideoSampleFPS < 1 {
		return fmt.Errorf("video_sample_fps must be >= 1, got %d", c.VideoSampleFPS)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1, got %d", c.WorkerPoolSize)
	}
	if c.JobQueueSize < 1 {
		return fmt.Errorf("job_queue_size must be >= 1, got %d", c.JobQueueSize)
	}
	for _, l := range c.ViolationLabels {
		if !models.Label(l).Valid() {
			return fmt.Errorf("unknown violation label %q", l)
		}
	}
	return nil
}

// Cooldown returns the alert cooldown as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// ViolationSet returns the violation labels as a lookup set.
func (c *Config) ViolationSet() map[models.Label]bool {
	set := make(map[models.Label]bool, len(c.ViolationLabels))
	for _, l := range c.ViolationLabels {
		set[models.Label(l)] = true
	}
	return set
}
