// Package config provides configuration loading and management for volview.
// It handles loading configuration from YAML files or flat key/value
// settings and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"volview/pkg/render"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Viewer parameters sent to every view with init
	Viewer struct {
		// BackgroundColor is the clear color as a #rrggbb hex string
		BackgroundColor string `yaml:"backgroundColor"`

		// FogDensity controls exponential fog applied to overlay geometry
		FogDensity float64 `yaml:"fogDensity"`

		// RenderStyle is the default style, "mip" or "iso"
		RenderStyle string `yaml:"renderStyle"`

		// Colormap is the default colormap name
		Colormap string `yaml:"colormap"`

		// IsoThreshold is the default surface threshold in [0,1]
		IsoThreshold float64 `yaml:"isoThreshold"`

		ShowGrid bool `yaml:"showGrid"`
		ShowAxes bool `yaml:"showAxes"`

		// GridSize is the grid side length; zero uses the largest volume axis
		GridSize float64 `yaml:"gridSize"`

		// GridUnit is the spacing between grid lines
		GridUnit float64 `yaml:"gridUnit"`

		// ShowStats draws the frame timing panel
		ShowStats bool `yaml:"showStats"`
	} `yaml:"viewer"`

	// Host parameters
	Host struct {
		// HotReload refreshes views when the backing file changes
		HotReload bool `yaml:"hotReload"`

		// Listen is the address websocket views connect to
		Listen string `yaml:"listen"`

		// FramesPerSecond paces headless render loops
		FramesPerSecond int `yaml:"framesPerSecond"`

		// Width and Height size the frames of headless views
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
	} `yaml:"host"`

	// Render device parameters
	Render struct {
		// Workers is the number of goroutines raymarching rows
		Workers int `yaml:"workers"`

		// Steps is the number of raymarch samples across the volume
		Steps int `yaml:"steps"`
	} `yaml:"render"`

	// Output parameters
	Output struct {
		// SnapshotDir receives PNG snapshots of headless views
		SnapshotDir string `yaml:"snapshotDir"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default viewer parameters
	cfg.Viewer.BackgroundColor = "#0b1447"
	cfg.Viewer.FogDensity = 0.01
	cfg.Viewer.RenderStyle = render.StyleISO.String()
	cfg.Viewer.Colormap = render.ColormapViridis.String()
	cfg.Viewer.IsoThreshold = 0.15
	cfg.Viewer.ShowGrid = true
	cfg.Viewer.ShowAxes = true
	cfg.Viewer.GridSize = 0
	cfg.Viewer.GridUnit = 10
	cfg.Viewer.ShowStats = true

	// Set default host parameters
	cfg.Host.HotReload = true
	cfg.Host.Listen = ""
	cfg.Host.FramesPerSecond = 30
	cfg.Host.Width = 640
	cfg.Host.Height = 480

	// Set default render parameters
	cfg.Render.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Render.Steps = 256

	// Set default output parameters
	cfg.Output.SnapshotDir = ""
	cfg.Output.LogLevel = "info"

	return cfg
}

// Validate checks values that would otherwise fail later inside a view
func (c *Config) Validate() error {
	if _, err := colorful.Hex(c.Viewer.BackgroundColor); err != nil {
		return fmt.Errorf("invalid backgroundColor %q: %w", c.Viewer.BackgroundColor, err)
	}
	if c.Viewer.FogDensity < 0 {
		return fmt.Errorf("fogDensity %g must not be negative", c.Viewer.FogDensity)
	}
	if _, err := render.ParseRenderStyle(c.Viewer.RenderStyle); err != nil {
		return err
	}
	if _, err := render.ParseColormap(c.Viewer.Colormap); err != nil {
		return err
	}
	if c.Viewer.IsoThreshold < 0 || c.Viewer.IsoThreshold > 1 {
		return fmt.Errorf("isoThreshold %g outside [0,1]", c.Viewer.IsoThreshold)
	}
	if c.Viewer.GridSize < 0 {
		return fmt.Errorf("gridSize %g must not be negative", c.Viewer.GridSize)
	}
	if c.Viewer.GridUnit <= 0 {
		return fmt.Errorf("gridUnit %g must be positive", c.Viewer.GridUnit)
	}
	if c.Host.FramesPerSecond <= 0 {
		return fmt.Errorf("framesPerSecond %d must be positive", c.Host.FramesPerSecond)
	}
	if c.Host.Width <= 0 || c.Host.Height <= 0 {
		return fmt.Errorf("frame size %dx%d must be positive", c.Host.Width, c.Host.Height)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// FromMap builds a configuration from flat key/value settings as a host
// environment supplies them. Keys may carry a "volview." prefix. Unknown
// keys are ignored and missing keys keep their defaults.
func FromMap(settings map[string]any) (*Config, error) {
	cfg := DefaultConfig()
	for key, value := range settings {
		if err := cfg.set(trimPrefix(key), value); err != nil {
			return nil, fmt.Errorf("setting %s: %w", key, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func trimPrefix(key string) string {
	const prefix = "volview."
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):]
	}
	return key
}

func (c *Config) set(key string, value any) error {
	var err error
	switch key {
	case "backgroundColor":
		c.Viewer.BackgroundColor, err = asString(value)
	case "fogDensity":
		c.Viewer.FogDensity, err = asFloat(value)
	case "renderStyle":
		c.Viewer.RenderStyle, err = asString(value)
	case "colormap":
		c.Viewer.Colormap, err = asString(value)
	case "isoThreshold":
		c.Viewer.IsoThreshold, err = asFloat(value)
	case "showGrid":
		c.Viewer.ShowGrid, err = asBool(value)
	case "showAxes":
		c.Viewer.ShowAxes, err = asBool(value)
	case "gridSize":
		c.Viewer.GridSize, err = asFloat(value)
	case "gridUnit":
		c.Viewer.GridUnit, err = asFloat(value)
	case "showStats":
		c.Viewer.ShowStats, err = asBool(value)
	case "hotReload":
		c.Host.HotReload, err = asBool(value)
	case "listen":
		c.Host.Listen, err = asString(value)
	case "framesPerSecond":
		c.Host.FramesPerSecond, err = asInt(value)
	case "width":
		c.Host.Width, err = asInt(value)
	case "height":
		c.Host.Height, err = asInt(value)
	case "workers":
		c.Render.Workers, err = asInt(value)
	case "steps":
		c.Render.Steps, err = asInt(value)
	case "snapshotDir":
		c.Output.SnapshotDir, err = asString(value)
	case "logLevel":
		c.Output.LogLevel, err = asString(value)
	}
	return err
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	}
	return "", fmt.Errorf("want string, got %T", v)
}

func asFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(x, 64)
	}
	return 0, fmt.Errorf("want number, got %T", v)
}

func asInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		return int(x), nil
	case float64:
		if x != float64(int(x)) {
			return 0, fmt.Errorf("want integer, got %g", x)
		}
		return int(x), nil
	case string:
		return strconv.Atoi(x)
	}
	return 0, fmt.Errorf("want integer, got %T", v)
}

func asBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		return strconv.ParseBool(x)
	}
	return false, fmt.Errorf("want bool, got %T", v)
}
