package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/reframe/internal/smooth"
	"github.com/andresmejia3/reframe/internal/types"
)

type Config struct {
	Output    OutputConfig    `yaml:"output"`
	Detector  DetectorConfig  `yaml:"detector"`
	Smoothing SmoothingConfig `yaml:"smoothing"`
	Render    RenderConfig    `yaml:"render"`
	Logging   LoggingConfig   `yaml:"logging"`
	Watch     WatchConfig     `yaml:"watch"`
}

type OutputConfig struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	Padding    float64 `yaml:"padding"`
	Confidence float64 `yaml:"confidence"`
	Selection  string  `yaml:"selection"`
}

type DetectorConfig struct {
	Backend string `yaml:"backend"` // pigo | process | yunet | none
	Workers int    `yaml:"workers"`

	// pigo
	Cascade      string  `yaml:"cascade"`
	MinSize      int     `yaml:"min_size"`
	MaxSize      int     `yaml:"max_size"`
	ShiftFactor  float64 `yaml:"shift_factor"`
	ScaleFactor  float64 `yaml:"scale_factor"`
	IoUThreshold float64 `yaml:"iou_threshold"`
	QualityScale float64 `yaml:"quality_scale"`

	// process
	Command []string `yaml:"command"`

	// yunet
	Model string `yaml:"model"`
}

type SmoothingConfig struct {
	Window         int     `yaml:"window"`
	BaseAlpha      float64 `yaml:"base_alpha"`
	MaxAlpha       float64 `yaml:"max_alpha"`
	SizeAlpha      float64 `yaml:"size_alpha"`
	SpeedThreshold float64 `yaml:"speed_threshold"`
}

type RenderConfig struct {
	Resampling string `yaml:"resampling"` // bilinear | nearest | catmullrom
	Codec      string `yaml:"codec"`
	Preset     string `yaml:"preset"`
	CRF        int    `yaml:"crf"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type WatchConfig struct {
	Dir           string        `yaml:"dir"`
	Out           string        `yaml:"out"`
	MaxConcurrent int           `yaml:"max_concurrent"`
	SettleDelay   time.Duration `yaml:"settle_delay"`
}

var (
	Backends    = []string{"pigo", "process", "yunet", "none"}
	Resamplings = []string{"bilinear", "nearest", "catmullrom"}
	LogLevels   = []string{"debug", "info", "warn", "error"}
)

// Default returns a configuration with every default filled in. The pigo
// backend still needs a cascade path before it validates.
func Default() *Config {
	c := &Config{}
	c.Validate()
	return c
}

// Load reads a YAML file and validates it. Missing keys take defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c := &Config{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return c, nil
}

// Validate fills zero values with defaults and rejects values that are
// out of range.
func (c *Config) Validate() error {
	def := types.DefaultOutputSpec()
	if c.Output.Width == 0 {
		c.Output.Width = def.TargetWidth
	}
	if c.Output.Height == 0 {
		c.Output.Height = def.TargetHeight
	}
	if c.Output.Padding == 0 {
		c.Output.Padding = def.PaddingFactor
	}
	if c.Output.Confidence == 0 {
		c.Output.Confidence = def.FaceDetectionConfidence
	}
	if c.Output.Selection == "" {
		c.Output.Selection = def.Selection
	}
	if c.Smoothing.Window == 0 {
		c.Smoothing.Window = def.SmoothingWindow
	}

	sp := smooth.DefaultParams()
	if c.Smoothing.BaseAlpha == 0 {
		c.Smoothing.BaseAlpha = sp.BaseAlphaPosition
	}
	if c.Smoothing.MaxAlpha == 0 {
		c.Smoothing.MaxAlpha = sp.MaxAlphaPosition
	}
	if c.Smoothing.SizeAlpha == 0 {
		c.Smoothing.SizeAlpha = sp.AlphaSize
	}
	if c.Smoothing.SpeedThreshold == 0 {
		c.Smoothing.SpeedThreshold = sp.SpeedThreshold
	}

	if c.Detector.Backend == "" {
		c.Detector.Backend = "pigo"
	}
	if c.Detector.MinSize == 0 {
		c.Detector.MinSize = 20
	}
	if c.Detector.MaxSize == 0 {
		c.Detector.MaxSize = 1000
	}
	if c.Detector.ShiftFactor == 0 {
		c.Detector.ShiftFactor = 0.1
	}
	if c.Detector.ScaleFactor == 0 {
		c.Detector.ScaleFactor = 1.1
	}
	if c.Detector.IoUThreshold == 0 {
		c.Detector.IoUThreshold = 0.2
	}
	if c.Detector.QualityScale == 0 {
		c.Detector.QualityScale = 10
	}

	if c.Render.Resampling == "" {
		c.Render.Resampling = "bilinear"
	}
	if c.Render.Codec == "" {
		c.Render.Codec = "libx264"
	}
	if c.Render.Preset == "" {
		c.Render.Preset = "medium"
	}
	if c.Render.CRF == 0 {
		c.Render.CRF = 18
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Watch.MaxConcurrent == 0 {
		c.Watch.MaxConcurrent = 1
	}
	if c.Watch.SettleDelay == 0 {
		c.Watch.SettleDelay = 500 * time.Millisecond
	}

	if err := c.OutputSpec().Validate(); err != nil {
		return err
	}
	if !slices.Contains(Backends, c.Detector.Backend) {
		return fmt.Errorf("detector.backend %q must be one of %v", c.Detector.Backend, Backends)
	}
	if c.Detector.Backend == "pigo" && c.Detector.Cascade == "" {
		return fmt.Errorf("detector.cascade is required for the pigo backend (e.g. the facefinder cascade)")
	}
	if c.Detector.Backend == "process" && len(c.Detector.Command) == 0 {
		return fmt.Errorf("detector.command is required for the process backend")
	}
	if c.Detector.Backend == "yunet" && c.Detector.Model == "" {
		return fmt.Errorf("detector.model is required for the yunet backend")
	}
	if c.Detector.Workers < 0 {
		return fmt.Errorf("detector.workers must not be negative")
	}
	if c.Detector.MinSize > c.Detector.MaxSize {
		return fmt.Errorf("detector.min_size %d exceeds max_size %d", c.Detector.MinSize, c.Detector.MaxSize)
	}
	if c.Detector.ScaleFactor <= 1 {
		return fmt.Errorf("detector.scale_factor must be greater than 1")
	}
	if c.Smoothing.BaseAlpha <= 0 || c.Smoothing.BaseAlpha > 1 ||
		c.Smoothing.MaxAlpha < c.Smoothing.BaseAlpha || c.Smoothing.MaxAlpha > 1 {
		return fmt.Errorf("smoothing alphas must satisfy 0 < base_alpha <= max_alpha <= 1")
	}
	if c.Smoothing.SizeAlpha <= 0 || c.Smoothing.SizeAlpha > 1 {
		return fmt.Errorf("smoothing.size_alpha must be in (0, 1]")
	}
	if c.Smoothing.SpeedThreshold < 0 {
		return fmt.Errorf("smoothing.speed_threshold must not be negative")
	}
	if !slices.Contains(Resamplings, c.Render.Resampling) {
		return fmt.Errorf("render.resampling %q must be one of %v", c.Render.Resampling, Resamplings)
	}
	if c.Render.CRF < 0 || c.Render.CRF > 51 {
		return fmt.Errorf("render.crf must be in [0, 51]")
	}
	if !slices.Contains(LogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level %q must be one of %v", c.Logging.Level, LogLevels)
	}
	if c.Watch.MaxConcurrent < 1 {
		return fmt.Errorf("watch.max_concurrent must be at least 1")
	}
	return nil
}

// OutputSpec is the per-job spec described by the output and smoothing
// sections.
func (c *Config) OutputSpec() types.OutputSpec {
	return types.OutputSpec{
		TargetWidth:             c.Output.Width,
		TargetHeight:            c.Output.Height,
		SmoothingWindow:         c.Smoothing.Window,
		PaddingFactor:           c.Output.Padding,
		FaceDetectionConfidence: c.Output.Confidence,
		Selection:               c.Output.Selection,
	}
}

// SmoothParams maps the smoothing section onto the smoother's tuning.
func (c *Config) SmoothParams() smooth.Params {
	return smooth.Params{
		BaseAlphaPosition: c.Smoothing.BaseAlpha,
		MaxAlphaPosition:  c.Smoothing.MaxAlpha,
		AlphaSize:         c.Smoothing.SizeAlpha,
		SpeedThreshold:    c.Smoothing.SpeedThreshold,
	}
}
