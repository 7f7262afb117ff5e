package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maskguard/maskguard/pkg/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.ListenAddr != ":8000" {
		t.Errorf("ListenAddr = %q, want :8000", cfg.ListenAddr)
	}
	if cfg.CooldownSeconds != 10 {
		t.Errorf("CooldownSeconds = %d, want 10", cfg.CooldownSeconds)
	}
	if cfg.MaxMissedFrames != 30 {
		t.Errorf("MaxMissedFrames = %d, want 30", cfg.MaxMissedFrames)
	}
	if cfg.MatchMaxDistance != 75.0 {
		t.Errorf("MatchMaxDistance = %v, want 75", cfg.MatchMaxDistance)
	}
	if cfg.VideoSampleFPS != 5 {
		t.Errorf("VideoSampleFPS = %d, want 5", cfg.VideoSampleFPS)
	}
	if cfg.Cooldown() != 10*time.Second {
		t.Errorf("Cooldown() = %v, want 10s", cfg.Cooldown())
	}

	set := cfg.ViolationSet()
	if !set[models.LabelNoMask] || !set[models.LabelMaskIncorrect] || set[models.LabelMaskOn] {
		t.Errorf("unexpected violation set: %v", set)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "maskguard.yaml")
	content := []byte("listen_addr: \":9100\"\ncooldown_seconds: 42\nworker_pool_size: 7\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.ListenAddr != ":9100" {
		t.Errorf("ListenAddr = %q, want :9100", cfg.ListenAddr)
	}
	if cfg.CooldownSeconds != 42 {
		t.Errorf("CooldownSeconds = %d, want 42", cfg.CooldownSeconds)
	}
	if cfg.WorkerPoolSize != 7 {
		t.Errorf("WorkerPoolSize = %d, want 7", cfg.WorkerPoolSize)
	}
	// Untouched keys keep defaults.
	if cfg.VideoSampleFPS != 5 {
		t.Errorf("VideoSampleFPS = %d, want default 5", cfg.VideoSampleFPS)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MASKGUARD_COOLDOWN_SECONDS", "99")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.CooldownSeconds != 99 {
		t.Errorf("CooldownSeconds = %d, want 99 from environment", cfg.CooldownSeconds)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	valid := func() *Config {
		return &Config{
			CooldownSeconds:  10,
			MaxMissedFrames:  30,
			MatchMaxDistance: 75,
			VideoSampleFPS:   5,
			WorkerPoolSize:   2,
			JobQueueSize:     64,
			ViolationLabels:  []string{"NO_MASK"},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cooldown", func(c *Config) { c.CooldownSeconds = 0 }},
		{"zero max missed", func(c *Config) { c.MaxMissedFrames = 0 }},
		{"negative distance", func(c *Config) { c.MatchMaxDistance = -1 }},
		{"zero sample fps", func(c *Config) { c.VideoSampleFPS = 0 }},
		{"zero workers", func(c *Config) { c.WorkerPoolSize = 0 }},
		{"zero queue", func(c *Config) { c.JobQueueSize = 0 }},
		{"unknown label", func(c *Config) { c.ViolationLabels = []string{"HAT_ON"} }},
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}
	for _, tt := range tests {
		cfg := valid()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}
