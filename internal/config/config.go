// Package config handles assetview configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Faultbox/assetview/pkg/formats"
)

// Config holds all assetview settings.
type Config struct {
	Scene   SceneConfig   `yaml:"scene"`
	Camera  CameraConfig  `yaml:"camera"`
	Loader  LoaderConfig  `yaml:"loader"`
	Inspect InspectConfig `yaml:"inspect"`
	Watch   WatchConfig   `yaml:"watch"`
	Logging LoggingConfig `yaml:"logging"`
}

// SceneConfig holds normalization settings.
type SceneConfig struct {
	TargetSize float64 `yaml:"target_size"` // Canonical viewing volume diameter
}

// CameraConfig holds camera limits and timing.
type CameraConfig struct {
	MinRadius     float64       `yaml:"min_radius"`
	MaxRadius     float64       `yaml:"max_radius"`
	InitialRadius float64       `yaml:"initial_radius"`
	ZoomStep      float64       `yaml:"zoom_step"`
	IdleDelay     time.Duration `yaml:"idle_delay"`
}

// LoaderConfig holds input limits.
type LoaderConfig struct {
	MaxFileSizeMB   int      `yaml:"max_file_size_mb"` // 0 disables the limit
	DisabledFormats []string `yaml:"disabled_formats"`
}

// InspectConfig holds batch inspection settings.
type InspectConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// WatchConfig holds file watch settings.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Scene: SceneConfig{
			TargetSize: 4,
		},
		Camera: CameraConfig{
			MinRadius:     2,
			MaxRadius:     20,
			InitialRadius: 8,
			ZoomStep:      1,
			IdleDelay:     3 * time.Second,
		},
		Loader: LoaderConfig{
			MaxFileSizeMB: 256,
		},
		Inspect: InspectConfig{
			Concurrency: 4,
		},
		Watch: WatchConfig{
			Debounce: 250 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validation errors.
var (
	ErrInvalidTargetSize = errors.New("scene.target_size must be positive")
	ErrInvalidRadius     = errors.New("camera radii must satisfy 0 < min_radius <= initial_radius <= max_radius")
	ErrInvalidZoomStep   = errors.New("camera.zoom_step must be positive")
	ErrInvalidLimit      = errors.New("negative limit")
)

// Validate checks value ranges and the disabled format list.
func (c *Config) Validate() error {
	if c.Scene.TargetSize <= 0 {
		return ErrInvalidTargetSize
	}
	cam := c.Camera
	if cam.MinRadius <= 0 || cam.MinRadius > cam.InitialRadius || cam.InitialRadius > cam.MaxRadius {
		return fmt.Errorf("%w: got %v/%v/%v", ErrInvalidRadius, cam.MinRadius, cam.InitialRadius, cam.MaxRadius)
	}
	if cam.ZoomStep <= 0 {
		return ErrInvalidZoomStep
	}
	if cam.IdleDelay < 0 || c.Watch.Debounce < 0 {
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidLimit)
	}
	if c.Loader.MaxFileSizeMB < 0 || c.Inspect.Concurrency < 0 {
		return fmt.Errorf("%w: sizes and concurrency must not be negative", ErrInvalidLimit)
	}
	if _, err := c.Loader.Disabled(); err != nil {
		return err
	}
	return nil
}

// Disabled parses the disabled format tags.
func (l LoaderConfig) Disabled() ([]formats.Format, error) {
	out := make([]formats.Format, 0, len(l.DisabledFormats))
	for _, tag := range l.DisabledFormats {
		f, err := formats.Parse(tag)
		if err != nil {
			return nil, fmt.Errorf("loader.disabled_formats: %w", err)
		}
		out = append(out, f)
	}
	return out, nil
}

// MaxFileSize returns the input limit in bytes.
func (l LoaderConfig) MaxFileSize() int64 {
	return int64(l.MaxFileSizeMB) << 20
}
