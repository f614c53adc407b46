// Package config loads the immutable process configuration from a JSON file
// on the storage device. Fields omitted from the file keep their defaults, so
// partial configs are safe; a missing or malformed file falls back to the
// defaults entirely.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds the tunable parameters. All fields are optional in the JSON;
// the Get* accessors supply defaults for anything unset. The struct is
// immutable for the process lifetime once loaded.
type Config struct {
	// Alarm params
	EnableAlarm      *bool   `json:"enable_alarm,omitempty"`
	AlarmFrequencyHz *int    `json:"alarm_frequency_hz,omitempty"`
	AlarmDuration    *string `json:"alarm_duration,omitempty"` // duration string like "10s"

	// Detection gating
	ObjectBlocklist     *[]string `json:"object_blocklist,omitempty"`
	ObjectAllowlist     *[]string `json:"object_allowlist,omitempty"`
	ValidObjects        *[]string `json:"valid_objects,omitempty"`
	ConfidenceThreshold *float64  `json:"confidence_threshold,omitempty"`

	// Session params
	IdleTimeout     *string `json:"idle_timeout,omitempty"` // duration string like "20s"
	Framerate       *int    `json:"framerate,omitempty"`
	FrameBufferSize *int    `json:"frame_buffer_size,omitempty"`
	FrameWidth      *int    `json:"frame_width,omitempty"`
	FrameHeight     *int    `json:"frame_height,omitempty"`
	SaveDirectory   *string `json:"save_directory,omitempty"`

	// Input params
	ForcedShutdownHold *string  `json:"forced_shutdown_hold,omitempty"` // duration string like "5s"
	MotionDebounce     *string  `json:"motion_debounce,omitempty"`      // duration string like "500ms"
	MotionSource       *string  `json:"motion_source,omitempty"`        // "gpio" or "radar"
	RadarPort          *string  `json:"radar_port,omitempty"`
	RadarBaud          *int     `json:"radar_baud,omitempty"`
	RadarThreshold     *float64 `json:"radar_threshold,omitempty"`
	CameraIndex        *int     `json:"camera_index,omitempty"`

	// Detector model
	ModelPath       *string   `json:"model_path,omitempty"`
	ModelConfigPath *string   `json:"model_config_path,omitempty"`
	ModelLabels     *[]string `json:"model_labels,omitempty"`
}

// Default returns a Config with all fields unset; every accessor falls back
// to its built-in default.
func Default() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under the max file size.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
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

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are usable.
func (c *Config) Validate() error {
	if c.Framerate != nil && *c.Framerate < 1 {
		return fmt.Errorf("framerate must be >= 1, got %d", *c.Framerate)
	}
	if c.FrameBufferSize != nil && *c.FrameBufferSize < 1 {
		return fmt.Errorf("frame_buffer_size must be >= 1, got %d", *c.FrameBufferSize)
	}
	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}
	if c.FrameWidth != nil && *c.FrameWidth < 1 {
		return fmt.Errorf("frame_width must be >= 1, got %d", *c.FrameWidth)
	}
	if c.FrameHeight != nil && *c.FrameHeight < 1 {
		return fmt.Errorf("frame_height must be >= 1, got %d", *c.FrameHeight)
	}
	if c.MotionSource != nil {
		switch *c.MotionSource {
		case "gpio", "radar":
		default:
			return fmt.Errorf("motion_source must be \"gpio\" or \"radar\", got %q", *c.MotionSource)
		}
	}
	for name, field := range map[string]*string{
		"alarm_duration":       c.AlarmDuration,
		"idle_timeout":         c.IdleTimeout,
		"forced_shutdown_hold": c.ForcedShutdownHold,
		"motion_debounce":      c.MotionDebounce,
	} {
		if field != nil && *field != "" {
			if _, err := time.ParseDuration(*field); err != nil {
				return fmt.Errorf("invalid %s '%s': %w", name, *field, err)
			}
		}
	}
	return nil
}

func (c *Config) duration(field *string, fallback time.Duration) time.Duration {
	if field == nil || *field == "" {
		return fallback
	}
	d, err := time.ParseDuration(*field)
	if err != nil {
		return fallback
	}
	return d
}

// GetEnableAlarm returns whether the buzzer output is enabled.
func (c *Config) GetEnableAlarm() bool {
	if c.EnableAlarm == nil {
		return true
	}
	return *c.EnableAlarm
}

// GetAlarmFrequencyHz returns the buzzer drive frequency. The buzzer circuit
// resonates at 31kHz.
func (c *Config) GetAlarmFrequencyHz() int {
	if c.AlarmFrequencyHz == nil {
		return 31000
	}
	return *c.AlarmFrequencyHz
}

// GetAlarmDuration returns how long the alarm stays armed after its last
// trigger.
func (c *Config) GetAlarmDuration() time.Duration {
	return c.duration(c.AlarmDuration, 10*time.Second)
}

// GetObjectBlocklist returns the labels that arm the alarm.
func (c *Config) GetObjectBlocklist() []string {
	if c.ObjectBlocklist == nil {
		return []string{"cat", "person", "dog"}
	}
	return *c.ObjectBlocklist
}

// GetObjectAllowlist returns the labels that suppress the alarm.
func (c *Config) GetObjectAllowlist() []string {
	if c.ObjectAllowlist == nil {
		return []string{"scissors"}
	}
	return *c.ObjectAllowlist
}

// GetValidObjects returns the labels the detector is trusted on; anything
// else is filtered from the detection set.
func (c *Config) GetValidObjects() []string {
	if c.ValidObjects == nil {
		return []string{"person", "cat", "dog", "bird", "horse", "sheep", "cow", "scissors"}
	}
	return *c.ValidObjects
}

// GetConfidenceThreshold returns the minimum confidence for a detection to
// count.
func (c *Config) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.6
	}
	return *c.ConfidenceThreshold
}

// GetIdleTimeout returns how long the session runs with no detections before
// returning to the inactive state.
func (c *Config) GetIdleTimeout() time.Duration {
	return c.duration(c.IdleTimeout, 20*time.Second)
}

// GetFramerate returns the target capture rate in frames per second.
func (c *Config) GetFramerate() int {
	if c.Framerate == nil {
		return 10
	}
	return *c.Framerate
}

// GetFrameBufferSize returns the ring buffer capacity in frames.
func (c *Config) GetFrameBufferSize() int {
	if c.FrameBufferSize == nil {
		return 150
	}
	return *c.FrameBufferSize
}

// GetFrameWidth returns the capture width in pixels.
func (c *Config) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return 1280
	}
	return *c.FrameWidth
}

// GetFrameHeight returns the capture height in pixels.
func (c *Config) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return 720
	}
	return *c.FrameHeight
}

// GetSaveDirectory returns the directory recordings and the session index
// are written to.
func (c *Config) GetSaveDirectory() string {
	if c.SaveDirectory == nil {
		return "/media/usb/lookout"
	}
	return *c.SaveDirectory
}

// GetForcedShutdownHold returns the button hold duration beyond which a
// release forces immediate shutdown.
func (c *Config) GetForcedShutdownHold() time.Duration {
	return c.duration(c.ForcedShutdownHold, 5*time.Second)
}

// GetMotionDebounce returns the minimum interval between motion events.
func (c *Config) GetMotionDebounce() time.Duration {
	return c.duration(c.MotionDebounce, 500*time.Millisecond)
}

// GetMotionSource returns which hardware provides the motion trigger.
func (c *Config) GetMotionSource() string {
	if c.MotionSource == nil {
		return "gpio"
	}
	return *c.MotionSource
}

// GetRadarPort returns the serial device of the doppler radar module.
func (c *Config) GetRadarPort() string {
	if c.RadarPort == nil {
		return "/dev/ttyS0"
	}
	return *c.RadarPort
}

// GetRadarBaud returns the radar serial baud rate.
func (c *Config) GetRadarBaud() int {
	if c.RadarBaud == nil {
		return 19200
	}
	return *c.RadarBaud
}

// GetRadarThreshold returns the minimum doppler report magnitude that counts
// as motion.
func (c *Config) GetRadarThreshold() float64 {
	if c.RadarThreshold == nil {
		return 100
	}
	return *c.RadarThreshold
}

// GetCameraIndex returns the V4L index of the capture device.
func (c *Config) GetCameraIndex() int {
	if c.CameraIndex == nil {
		return 0
	}
	return *c.CameraIndex
}

// GetModelPath returns the detection model weights file.
func (c *Config) GetModelPath() string {
	if c.ModelPath == nil {
		return "/opt/lookout/model/frozen_inference_graph.pb"
	}
	return *c.ModelPath
}

// GetModelConfigPath returns the detection model graph config file.
func (c *Config) GetModelConfigPath() string {
	if c.ModelConfigPath == nil {
		return "/opt/lookout/model/graph.pbtxt"
	}
	return *c.ModelConfigPath
}

// GetModelLabels returns the network's class-ID-to-label mapping.
func (c *Config) GetModelLabels() []string {
	if c.ModelLabels == nil {
		return cocoLabels
	}
	return *c.ModelLabels
}

// COCO class labels, index-aligned with the default SSD model's class IDs.
var cocoLabels = []string{
	"background", "person", "bicycle", "car", "motorcycle", "airplane", "bus",
	"train", "truck", "boat", "traffic light", "fire hydrant", "street sign",
	"stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "hat", "backpack",
	"umbrella", "shoe", "eye glasses", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat",
	"baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"plate", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana",
	"apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza",
	"donut", "cake", "chair", "couch", "potted plant", "bed", "mirror",
	"dining table", "window", "desk", "toilet", "door", "tv", "laptop",
	"mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "blender", "book", "clock", "vase",
	"scissors", "teddy bear", "hair drier", "toothbrush",
}
