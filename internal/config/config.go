// Package config loads the intersection controller's settings from a JSON or
// YAML file. Every field is optional; the GetX accessors supply defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/crossroads/internal/arbiter"
	"github.com/banshee-data/crossroads/internal/serialmux"
	"github.com/banshee-data/crossroads/internal/signal"
	"github.com/banshee-data/crossroads/internal/vision"
)

// DefaultConfigPath is the canonical location of the shipped defaults file.
const DefaultConfigPath = "config/crossroads.defaults.yaml"

// ErrInvalidTiming is returned when the green-phase timing cannot be built.
var ErrInvalidTiming = arbiter.ErrInvalidTiming

// Config holds the controller settings. Pointer fields distinguish "not set"
// from zero values so partial files fall back to defaults.
type Config struct {
	// Arbitration timing, as duration strings like "10s".
	MinGreenDuration *string `json:"min_green_duration,omitempty" yaml:"min_green_duration,omitempty"`
	MaxGreenDuration *string `json:"max_green_duration,omitempty" yaml:"max_green_duration,omitempty"`
	PollInterval     *string `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty"`
	ErrorBackoff     *string `json:"error_backoff,omitempty" yaml:"error_backoff,omitempty"`
	StopTimeout      *string `json:"stop_timeout,omitempty" yaml:"stop_timeout,omitempty"`

	// Detection. DetectionThreshold is reported in status only; counts are
	// decided by MinContourArea.
	DetectionThreshold *float64 `json:"detection_threshold,omitempty" yaml:"detection_threshold,omitempty"`
	MinContourArea     *float64 `json:"min_contour_area,omitempty" yaml:"min_contour_area,omitempty"`
	BackgroundHistory  *int     `json:"background_history,omitempty" yaml:"background_history,omitempty"`
	VarianceThreshold  *float64 `json:"variance_threshold,omitempty" yaml:"variance_threshold,omitempty"`
	FrameWidth         *int     `json:"frame_width,omitempty" yaml:"frame_width,omitempty"`
	FrameHeight        *int     `json:"frame_height,omitempty" yaml:"frame_height,omitempty"`

	// Frame source identifiers per direction: an http(s) snapshot URL, a
	// directory of frames, or "none".
	CameraDirection1 *string `json:"camera_direction_1,omitempty" yaml:"camera_direction_1,omitempty"`
	CameraDirection2 *string `json:"camera_direction_2,omitempty" yaml:"camera_direction_2,omitempty"`

	// LED strip controller. An empty device selects the simulated output.
	LEDDevice     *string `json:"led_device,omitempty" yaml:"led_device,omitempty"`
	LEDBaudRate   *int    `json:"led_baud_rate,omitempty" yaml:"led_baud_rate,omitempty"`
	LEDCount      *int    `json:"led_count,omitempty" yaml:"led_count,omitempty"`
	LEDBrightness *int    `json:"led_brightness,omitempty" yaml:"led_brightness,omitempty"`

	// Persistence and serving.
	DBPath                *string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	Listen                *string `json:"listen,omitempty" yaml:"listen,omitempty"`
	GRPCListen            *string `json:"grpc_listen,omitempty" yaml:"grpc_listen,omitempty"`
	StatusSampleRetention *string `json:"status_sample_retention,omitempty" yaml:"status_sample_retention,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with every field unset.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	return &Config{
		MinGreenDuration:      ptrString("10s"),
		MaxGreenDuration:      ptrString("60s"),
		PollInterval:          ptrString("1s"),
		ErrorBackoff:          ptrString("1s"),
		StopTimeout:           ptrString("5s"),
		DetectionThreshold:    ptrFloat64(0.3),
		MinContourArea:        ptrFloat64(1000),
		BackgroundHistory:     ptrInt(500),
		VarianceThreshold:     ptrFloat64(16),
		FrameWidth:            ptrInt(640),
		FrameHeight:           ptrInt(480),
		CameraDirection1:      ptrString(""),
		CameraDirection2:      ptrString(""),
		LEDDevice:             ptrString(""),
		LEDBaudRate:           ptrInt(serialmux.DefaultBaudRate),
		LEDCount:              ptrInt(signal.DefaultLEDCount),
		LEDBrightness:         ptrInt(255),
		DBPath:                ptrString("crossroads.db"),
		Listen:                ptrString(":8080"),
		GRPCListen:            ptrString(":50051"),
		StatusSampleRetention: ptrString("24h"),
	}
}

// LoadConfig reads a .json, .yaml or .yml config file and validates it.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the fields that are set. Unset fields use defaults and are
// always valid.
func (c *Config) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"min_green_duration", c.MinGreenDuration},
		{"max_green_duration", c.MaxGreenDuration},
		{"poll_interval", c.PollInterval},
		{"error_backoff", c.ErrorBackoff},
		{"stop_timeout", c.StopTimeout},
		{"status_sample_retention", c.StatusSampleRetention},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		if _, err := time.ParseDuration(*d.v); err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
	}

	if _, err := c.Timing(); err != nil {
		return err
	}
	if c.GetStopTimeout() <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %s", c.GetStopTimeout())
	}
	if c.GetStatusSampleRetention() < 0 {
		return fmt.Errorf("status_sample_retention must be non-negative, got %s", c.GetStatusSampleRetention())
	}

	if th := c.GetDetectionThreshold(); th < 0 || th > 1 {
		return fmt.Errorf("detection_threshold must be between 0 and 1, got %f", th)
	}
	if err := c.VisionParams().Validate(); err != nil {
		return err
	}

	if err := signal.CheckLEDCount(c.GetLEDCount()); err != nil {
		return fmt.Errorf("led_count: %w", err)
	}
	if b := c.GetLEDBrightness(); b < 0 || b > 255 {
		return fmt.Errorf("led_brightness must be between 0 and 255, got %d", b)
	}
	if c.GetLEDBaudRate() <= 0 {
		return fmt.Errorf("led_baud_rate must be positive, got %d", c.GetLEDBaudRate())
	}
	return nil
}

// Timing builds the arbitration timing. It fails with ErrInvalidTiming when a
// duration is not positive or the minimum green exceeds the maximum.
func (c *Config) Timing() (arbiter.Timing, error) {
	return arbiter.NewTiming(
		c.GetMinGreenDuration(),
		c.GetMaxGreenDuration(),
		c.GetPollInterval(),
		c.GetErrorBackoff(),
	)
}

// VisionParams maps the detection settings onto the vision pipeline.
func (c *Config) VisionParams() vision.Params {
	p := vision.DefaultParams()
	p.History = c.GetBackgroundHistory()
	p.VarianceThreshold = c.GetVarianceThreshold()
	p.MinContourArea = c.GetMinContourArea()
	p.Width = c.GetFrameWidth()
	p.Height = c.GetFrameHeight()
	return p
}

// PortOptions returns the serial options for the LED controller.
func (c *Config) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{BaudRate: c.GetLEDBaudRate()}
}

// CameraSources returns the frame source identifiers indexed by direction.
func (c *Config) CameraSources() [2]string {
	return [2]string{
		getString(c.CameraDirection1, ""),
		getString(c.CameraDirection2, ""),
	}
}

func getDuration(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def // default on parse error
	}
	return d
}

func getString(v *string, def string) string {
	if v == nil {
		return def
	}
	return *v
}

func (c *Config) GetMinGreenDuration() time.Duration {
	return getDuration(c.MinGreenDuration, 10*time.Second)
}

func (c *Config) GetMaxGreenDuration() time.Duration {
	return getDuration(c.MaxGreenDuration, 60*time.Second)
}

func (c *Config) GetPollInterval() time.Duration {
	return getDuration(c.PollInterval, time.Second)
}

func (c *Config) GetErrorBackoff() time.Duration {
	return getDuration(c.ErrorBackoff, time.Second)
}

func (c *Config) GetStopTimeout() time.Duration {
	return getDuration(c.StopTimeout, 5*time.Second)
}

func (c *Config) GetStatusSampleRetention() time.Duration {
	return getDuration(c.StatusSampleRetention, 24*time.Hour)
}

func (c *Config) GetDetectionThreshold() float64 {
	if c.DetectionThreshold == nil {
		return 0.3
	}
	return *c.DetectionThreshold
}

func (c *Config) GetMinContourArea() float64 {
	if c.MinContourArea == nil {
		return 1000
	}
	return *c.MinContourArea
}

func (c *Config) GetBackgroundHistory() int {
	if c.BackgroundHistory == nil {
		return 500
	}
	return *c.BackgroundHistory
}

func (c *Config) GetVarianceThreshold() float64 {
	if c.VarianceThreshold == nil {
		return 16
	}
	return *c.VarianceThreshold
}

func (c *Config) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 640
	}
	return *c.FrameWidth
}

func (c *Config) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 480
	}
	return *c.FrameHeight
}

func (c *Config) GetLEDDevice() string {
	return getString(c.LEDDevice, "")
}

func (c *Config) GetLEDBaudRate() int {
	if c.LEDBaudRate == nil {
		return serialmux.DefaultBaudRate
	}
	return *c.LEDBaudRate
}

func (c *Config) GetLEDCount() int {
	if c.LEDCount == nil {
		return signal.DefaultLEDCount
	}
	return *c.LEDCount
}

func (c *Config) GetLEDBrightness() int {
	if c.LEDBrightness == nil {
		return 255
	}
	return *c.LEDBrightness
}

func (c *Config) GetDBPath() string {
	return getString(c.DBPath, "crossroads.db")
}

func (c *Config) GetListen() string {
	return getString(c.Listen, ":8080")
}

// GetGRPCListen returns the health service address. Empty disables it.
func (c *Config) GetGRPCListen() string {
	return getString(c.GRPCListen, ":50051")
}
