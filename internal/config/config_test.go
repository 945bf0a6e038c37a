package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestDefaultIsValid verifies the built-in defaults pass validation.
func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

// TestValidateRanges verifies each configured value is checked against its
// admissible range.
func TestValidateRanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"websocket port too large", func(c *Config) { c.WebSocket.Port = 70000 }},
		{"threshold zero", func(c *Config) { c.Motion.Threshold = 0 }},
		{"threshold too large", func(c *Config) { c.Motion.Threshold = 300 }},
		{"min area zero", func(c *Config) { c.Motion.MinArea = 0 }},
		{"skip frames zero", func(c *Config) { c.Motion.SkipFrames = 0 }},
		{"post buffer zero", func(c *Config) { c.Motion.PostBufferSeconds = 0 }},
		{"even blur kernel", func(c *Config) { c.Motion.BlurKernel = 10 }},
		{"empty recordings dir", func(c *Config) { c.Recording.RecordingsDir = "" }},
		{"cleanup days zero", func(c *Config) { c.Recording.CleanupDays = 0 }},
		{"chunk too short", func(c *Config) { c.Recording.ChunkDurationSeconds = 5 }},
		{"chunk too long", func(c *Config) { c.Recording.ChunkDurationSeconds = 7200 }},
		{"crf out of range", func(c *Config) { c.Recording.CRF = 60 }},
		{"buffer size zero", func(c *Config) { c.Performance.BufferSize = 0 }},
		{"max init frames zero", func(c *Config) { c.Performance.MaxInitFrames = 0 }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

// TestLoadDefaultsOnly verifies loading without a file yields the defaults.
func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 8083 || cfg.WebSocket.Port != 8084 {
		t.Errorf("default ports = %d/%d, want 8083/8084", cfg.HTTP.Port, cfg.WebSocket.Port)
	}
	if cfg.Motion.Threshold != 30 || cfg.Motion.MinArea != 800 || cfg.Motion.SkipFrames != 10 {
		t.Errorf("default motion params = %+v", cfg.Motion)
	}
	if cfg.Recording.ChunkDurationSeconds != 60 {
		t.Errorf("default chunk duration = %d, want 60", cfg.Recording.ChunkDurationSeconds)
	}
}

// TestLoadYAMLOverridesDefaults verifies file values replace defaults while
// untouched keys keep theirs.
func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
http:
  port: 9090
motion_detection:
  threshold: 40
recording:
  chunk_duration_seconds: 120
  reencode: false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("http.port = %d, want 9090", cfg.HTTP.Port)
	}
	if cfg.Motion.Threshold != 40 {
		t.Errorf("threshold = %d, want 40", cfg.Motion.Threshold)
	}
	if cfg.Recording.ChunkDurationSeconds != 120 {
		t.Errorf("chunk duration = %d, want 120", cfg.Recording.ChunkDurationSeconds)
	}
	if cfg.Recording.Reencode {
		t.Error("reencode = true, want false")
	}
	if cfg.WebSocket.Port != 8084 {
		t.Errorf("untouched websocket.port = %d, want default 8084", cfg.WebSocket.Port)
	}
}

// TestLoadEnvOverridesFile verifies environment variables win over the file.
func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VIGIL_HTTP_PORT", "9191")
	t.Setenv("VIGIL_MOTION_DETECTION_MIN_AREA", "500")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Port != 9191 {
		t.Errorf("http.port = %d, want env override 9191", cfg.HTTP.Port)
	}
	if cfg.Motion.MinArea != 500 {
		t.Errorf("min_area = %d, want env override 500", cfg.Motion.MinArea)
	}
}

// TestLoadRejectsInvalid verifies an out-of-range file value is fatal.
func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("motion_detection:\n  threshold: 999\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() = nil error for invalid config, want validation failure")
	}
}

// TestLoadMissingFile verifies a named but absent file is an error rather
// than a silent fallback to defaults.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load(absent) = nil error, want failure")
	}
}

// TestDurationHelpers verifies the derived duration accessors.
func TestDurationHelpers(t *testing.T) {
	cfg := Default()
	if got := cfg.Motion.PostBuffer(); got != 3*time.Second {
		t.Errorf("PostBuffer() = %v, want 3s", got)
	}
	if got := cfg.Recording.Retention(); got != 3*24*time.Hour {
		t.Errorf("Retention() = %v, want 72h", got)
	}
	if got := cfg.Recording.CleanupInterval(); got != 6*time.Hour {
		t.Errorf("CleanupInterval() = %v, want 6h", got)
	}
	if got := cfg.Performance.InitFrameWaitDuration(); got != 200*time.Millisecond {
		t.Errorf("InitFrameWaitDuration() = %v, want 200ms", got)
	}
}
