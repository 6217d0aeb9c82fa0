// Package config loads the viewer configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config is the complete viewer configuration. Zero fields in a file keep
// the value from Default.
type Config struct {
	Window WindowConfig `toml:"window"`
	Camera CameraConfig `toml:"camera"`
	Sort   SortConfig   `toml:"sort"`
	Server ServerConfig `toml:"server"`
}

type WindowConfig struct {
	Title  string `toml:"title"`
	Width  int    `toml:"width"`
	Height int    `toml:"height"`

	// Background is the RGBA clear color, each channel in [0, 1].
	Background [4]float32 `toml:"background"`
}

type CameraConfig struct {
	// FOV is the vertical field of view in degrees.
	FOV             float32    `toml:"fov"`
	Near            float32    `toml:"near"`
	Far             float32    `toml:"far"`
	MinDistance     float32    `toml:"min_distance"`
	MaxDistance     float32    `toml:"max_distance"`
	InitialDistance float32    `toml:"initial_distance"`
	Up              [3]float32 `toml:"up"`
}

type SortConfig struct {
	// Interval is the minimum number of rendered frames between two sort
	// requests.
	Interval int `toml:"interval"`
}

type ServerConfig struct {
	Addr      string `toml:"addr"`
	StaticDir string `toml:"static_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Window: WindowConfig{
			Title:      "Splat Viewer",
			Width:      1280,
			Height:     720,
			Background: [4]float32{0, 0, 0, 1},
		},
		Camera: CameraConfig{
			FOV:             60,
			Near:            0.1,
			Far:             500,
			MinDistance:     0.1,
			MaxDistance:     100,
			InitialDistance: 5,
			Up:              [3]float32{0, -1, 0},
		},
		Sort:   SortConfig{Interval: 10},
		Server: ServerConfig{Addr: "", StaticDir: "./static"},
	}
}

// Load reads path over Default. A missing file is not an error when
// optional is true.
func Load(path string, optional bool) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg, leaving absent keys untouched, and
// validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return cfg.Validate()
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.Window.Width <= 0 || c.Window.Height <= 0:
		return fmt.Errorf("window size %dx%d must be positive", c.Window.Width, c.Window.Height)
	case !unitRange(c.Window.Background[:]):
		return fmt.Errorf("window background %v must have channels in [0, 1]", c.Window.Background)
	case c.Camera.FOV <= 0 || c.Camera.FOV >= 180:
		return fmt.Errorf("camera fov %v out of range (0, 180)", c.Camera.FOV)
	case c.Camera.Near <= 0 || c.Camera.Near >= c.Camera.Far:
		return fmt.Errorf("camera near %v must be positive and below far %v", c.Camera.Near, c.Camera.Far)
	case c.Camera.MinDistance <= 0 || c.Camera.MinDistance > c.Camera.MaxDistance:
		return fmt.Errorf("camera distance range [%v, %v] invalid", c.Camera.MinDistance, c.Camera.MaxDistance)
	case c.Camera.Up == [3]float32{}:
		return errors.New("camera up vector must be non-zero")
	case c.Sort.Interval < 1:
		return fmt.Errorf("sort interval %d must be at least 1", c.Sort.Interval)
	}
	return nil
}

func unitRange(v []float32) bool {
	for _, x := range v {
		if !(x >= 0 && x <= 1) {
			return false
		}
	}
	return true
}

// Encode renders cfg as TOML.
func (c Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
