// Package config loads and validates the vigil configuration.
//
// Configuration is merged from three sources with increasing precedence:
//
//  1. Built-in defaults
//  2. YAML configuration file
//  3. VIGIL_* environment variables
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the process.
type Config struct {
	HTTP        HTTPConfig        `koanf:"http"`
	WebSocket   WebSocketConfig   `koanf:"websocket"`
	Motion      MotionConfig      `koanf:"motion_detection"`
	Recording   RecordingConfig   `koanf:"recording"`
	Performance PerformanceConfig `koanf:"performance"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// HTTPConfig configures the HTTP control plane listener.
type HTTPConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// WebSocketConfig configures the motion-event WebSocket listener.
type WebSocketConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// MotionConfig holds the per-camera frame-difference parameters.
type MotionConfig struct {
	Threshold         int `koanf:"threshold"`
	MinArea           int `koanf:"min_area"`
	SkipFrames        int `koanf:"skip_frames"`
	PostBufferSeconds int `koanf:"post_buffer_seconds"`
	DetectWidth       int `koanf:"detect_width"`
	DetectHeight      int `koanf:"detect_height"`
	BlurKernel        int `koanf:"blur_kernel"`
}

// RecordingConfig holds the encoder and retention settings.
type RecordingConfig struct {
	RecordingsDir        string `koanf:"recordings_dir"`
	CleanupDays          int    `koanf:"cleanup_days"`
	CleanupIntervalHours int    `koanf:"cleanup_interval_hours"`
	ChunkDurationSeconds int    `koanf:"chunk_duration_seconds"`
	Reencode             bool   `koanf:"reencode"`
	Preset               string `koanf:"preset"`
	CRF                  int    `koanf:"crf"`
	FPS                  int    `koanf:"fps"`
	Resolution           string `koanf:"resolution"`
	AudioBitrate         string `koanf:"audio_bitrate"`
	Threads              int    `koanf:"threads"`
	FFmpegPath           string `koanf:"ffmpeg_path"`
}

// PerformanceConfig tunes the frame source.
type PerformanceConfig struct {
	BufferSize    int `koanf:"buffer_size"`
	MaxInitFrames int `koanf:"max_init_frames"`
	InitFrameWait int `koanf:"init_frame_wait_ms"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

// Default returns the built-in configuration defaults.
func Default() Config {
	return Config{
		HTTP:      HTTPConfig{Host: "0.0.0.0", Port: 8083},
		WebSocket: WebSocketConfig{Host: "0.0.0.0", Port: 8084},
		Motion: MotionConfig{
			Threshold:         30,
			MinArea:           800,
			SkipFrames:        10,
			PostBufferSeconds: 3,
			DetectWidth:       128,
			DetectHeight:      96,
			BlurKernel:        11,
		},
		Recording: RecordingConfig{
			RecordingsDir:        "recordings",
			CleanupDays:          3,
			CleanupIntervalHours: 6,
			ChunkDurationSeconds: 60,
			Reencode:             true,
			Preset:               "ultrafast",
			CRF:                  28,
			FPS:                  15,
			Resolution:           "1280x720",
			AudioBitrate:         "64k",
			Threads:              2,
			FFmpegPath:           "ffmpeg",
		},
		Performance: PerformanceConfig{
			BufferSize:    1,
			MaxInitFrames: 50,
			InitFrameWait: 200,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Validate checks every configured value against its admissible range.
// A configuration that fails validation is fatal at startup.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in 1..65535, got %d", c.HTTP.Port)
	}
	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		return fmt.Errorf("websocket.port must be in 1..65535, got %d", c.WebSocket.Port)
	}
	if c.Motion.Threshold < 1 || c.Motion.Threshold > 255 {
		return fmt.Errorf("motion_detection.threshold must be in 1..255, got %d", c.Motion.Threshold)
	}
	if c.Motion.MinArea <= 0 {
		return fmt.Errorf("motion_detection.min_area must be positive, got %d", c.Motion.MinArea)
	}
	if c.Motion.SkipFrames <= 0 {
		return fmt.Errorf("motion_detection.skip_frames must be positive, got %d", c.Motion.SkipFrames)
	}
	if c.Motion.PostBufferSeconds <= 0 {
		return fmt.Errorf("motion_detection.post_buffer_seconds must be positive, got %d", c.Motion.PostBufferSeconds)
	}
	if c.Motion.DetectWidth <= 0 || c.Motion.DetectHeight <= 0 {
		return fmt.Errorf("motion_detection detect resolution must be positive, got %dx%d",
			c.Motion.DetectWidth, c.Motion.DetectHeight)
	}
	if c.Motion.BlurKernel <= 0 || c.Motion.BlurKernel%2 == 0 {
		return fmt.Errorf("motion_detection.blur_kernel must be a positive odd number, got %d", c.Motion.BlurKernel)
	}
	if c.Recording.RecordingsDir == "" {
		return fmt.Errorf("recording.recordings_dir cannot be empty")
	}
	if c.Recording.CleanupDays < 1 {
		return fmt.Errorf("recording.cleanup_days must be at least 1, got %d", c.Recording.CleanupDays)
	}
	if c.Recording.CleanupIntervalHours < 1 {
		return fmt.Errorf("recording.cleanup_interval_hours must be at least 1, got %d", c.Recording.CleanupIntervalHours)
	}
	if c.Recording.ChunkDurationSeconds < 10 || c.Recording.ChunkDurationSeconds > 3600 {
		return fmt.Errorf("recording.chunk_duration_seconds must be in 10..3600, got %d", c.Recording.ChunkDurationSeconds)
	}
	if c.Recording.Reencode {
		if c.Recording.CRF < 0 || c.Recording.CRF > 51 {
			return fmt.Errorf("recording.crf must be in 0..51, got %d", c.Recording.CRF)
		}
		if c.Recording.FPS <= 0 {
			return fmt.Errorf("recording.fps must be positive, got %d", c.Recording.FPS)
		}
		if c.Recording.Threads <= 0 {
			return fmt.Errorf("recording.threads must be positive, got %d", c.Recording.Threads)
		}
	}
	if c.Recording.FFmpegPath == "" {
		return fmt.Errorf("recording.ffmpeg_path cannot be empty")
	}
	if c.Performance.BufferSize < 1 || c.Performance.BufferSize > 16 {
		return fmt.Errorf("performance.buffer_size must be in 1..16, got %d", c.Performance.BufferSize)
	}
	if c.Performance.MaxInitFrames <= 0 {
		return fmt.Errorf("performance.max_init_frames must be positive, got %d", c.Performance.MaxInitFrames)
	}
	if c.Performance.InitFrameWait <= 0 {
		return fmt.Errorf("performance.init_frame_wait_ms must be positive, got %d", c.Performance.InitFrameWait)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", c.Logging.Level)
	}
	return nil
}

// PostBuffer returns the post-buffer hysteresis as a duration.
func (c *MotionConfig) PostBuffer() time.Duration {
	return time.Duration(c.PostBufferSeconds) * time.Second
}

// InitFrameWaitDuration returns the per-attempt initial frame wait.
func (c *PerformanceConfig) InitFrameWaitDuration() time.Duration {
	return time.Duration(c.InitFrameWait) * time.Millisecond
}

// Retention returns the recording retention window.
func (c *RecordingConfig) Retention() time.Duration {
	return time.Duration(c.CleanupDays) * 24 * time.Hour
}

// CleanupInterval returns the janitor sweep interval.
func (c *RecordingConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}
