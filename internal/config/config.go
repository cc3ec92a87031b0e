// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.yaml.in/yaml/v3"
)

// ConfigFilePath is the default location for the configuration file.
const ConfigFilePath = "/etc/avcapd/config.yaml"

// Config represents the complete avcapd pipeline configuration: the
// video/audio capture surface plus ambient health/output settings.
type Config struct {
	Video  VideoConfig  `yaml:"video" koanf:"video"`
	Audio  AudioConfig  `yaml:"audio" koanf:"audio"`
	Output OutputConfig `yaml:"output" koanf:"output"`
	Health HealthConfig `yaml:"health" koanf:"health"`

	// DurationSec is the fixed run length in seconds; 0 runs until a
	// signal arrives. The Timer worker is only started when this is
	// positive.
	DurationSec int `yaml:"duration_sec" koanf:"duration_sec"`
}

// VideoConfig configures the VideoCapture/VideoEncode stages.
type VideoConfig struct {
	Device  string `yaml:"device" koanf:"device"`
	Width   int    `yaml:"width" koanf:"width"`
	Height  int    `yaml:"height" koanf:"height"`
	FPS     int    `yaml:"fps" koanf:"fps"`
	Bitrate int    `yaml:"bitrate" koanf:"bitrate"`
	Codec   string `yaml:"codec" koanf:"codec"`
}

// AudioConfig configures the AudioCapture stage.
type AudioConfig struct {
	Device     string `yaml:"device" koanf:"device"`
	SampleRate int    `yaml:"sample_rate" koanf:"sample_rate"`
	Channels   int    `yaml:"channels" koanf:"channels"`
}

// OutputConfig configures H264Sink and PcmSink, including the optional
// SegmentedSink rotation.
type OutputConfig struct {
	H264Path string `yaml:"h264_path" koanf:"h264_path"`
	PcmPath  string `yaml:"pcm_path" koanf:"pcm_path"`

	Segmented            bool          `yaml:"segmented" koanf:"segmented"`
	SegmentDuration      time.Duration `yaml:"segment_duration" koanf:"segment_duration"`
	SegmentMaxAge        time.Duration `yaml:"segment_max_age" koanf:"segment_max_age"`
	SegmentMaxTotalBytes int64         `yaml:"segment_max_total_bytes" koanf:"segment_max_total_bytes"`
}

// HealthConfig configures the /healthz and /metrics endpoints.
type HealthConfig struct {
	Enabled    bool   `yaml:"enabled" koanf:"enabled"`
	Addr       string `yaml:"addr" koanf:"addr"`
	MetricsPath string `yaml:"metrics_path" koanf:"metrics_path"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 - Config path is from administrator-controlled configuration
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// atomicFile abstracts file operations used by Save for testability.
type atomicFile interface {
	Write([]byte) (int, error)
	Sync() error
	Chmod(os.FileMode) error
	Close() error
	Name() string
}

// atomicCreateTemp is the injectable temp-file creator used by Save.
type atomicCreateTemp func(dir, pattern string) (atomicFile, error)

func defaultCreateTemp(dir, pattern string) (atomicFile, error) {
	return os.CreateTemp(dir, pattern) // #nosec G304
}

// Save writes the configuration to a YAML file, atomically (write to a
// temp file in the same directory, sync, rename).
func (c *Config) Save(path string) error {
	return c.saveWith(path, defaultCreateTemp)
}

func (c *Config) saveWith(path string, createTemp atomicCreateTemp) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)

	tmpFile, err := createTemp(dir, ".config.*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write temp config file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp config file: %w", err)
	}
	// Config file restricted to owner+group for least privilege.
	// #nosec G302
	if err := tmpFile.Chmod(0640); err != nil {
		return fmt.Errorf("failed to set config file permissions: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp config file: %w", err)
	}

	success = true
	return nil
}

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	if c.Video.Width <= 0 || c.Video.Height <= 0 {
		return fmt.Errorf("video: width and height must be positive")
	}
	if c.Video.FPS <= 0 {
		return fmt.Errorf("video: fps must be positive")
	}
	if c.Video.Bitrate <= 0 {
		return fmt.Errorf("video: bitrate must be positive")
	}
	if c.Video.Codec == "" {
		return fmt.Errorf("video: codec cannot be empty")
	}
	if c.Video.Device == "" {
		return fmt.Errorf("video: device cannot be empty")
	}

	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio: sample_rate must be positive")
	}
	if c.Audio.Channels <= 0 || c.Audio.Channels > 32 {
		return fmt.Errorf("audio: channels must be between 1 and 32")
	}
	if c.Audio.Device == "" {
		return fmt.Errorf("audio: device cannot be empty")
	}

	if c.Output.H264Path == "" {
		return fmt.Errorf("output: h264_path cannot be empty")
	}
	if c.Output.PcmPath == "" {
		return fmt.Errorf("output: pcm_path cannot be empty")
	}
	if c.Output.SegmentMaxTotalBytes < 0 {
		return fmt.Errorf("output: segment_max_total_bytes must not be negative")
	}

	if c.DurationSec < 0 {
		return fmt.Errorf("duration_sec must not be negative")
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Video: VideoConfig{
			Device:  "/dev/video0",
			Width:   1280,
			Height:  720,
			FPS:     30,
			Bitrate: 2_000_000,
			Codec:   "h264",
		},
		Audio: AudioConfig{
			Device:     "hw:0,0",
			SampleRate: 48000,
			Channels:   2,
		},
		Output: OutputConfig{
			H264Path:             "/var/lib/avcapd/video.h264",
			PcmPath:              "/var/lib/avcapd/audio.pcm",
			Segmented:            false,
			SegmentDuration:      time.Hour,
			SegmentMaxAge:        7 * 24 * time.Hour,
			SegmentMaxTotalBytes: 0,
		},
		Health: HealthConfig{
			Enabled:     true,
			Addr:        "127.0.0.1:9998",
			MetricsPath: "/metrics",
		},
		DurationSec: 0,
	}
}
