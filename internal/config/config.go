package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const appName = "spl-tray"

type Config struct {
	LogLevel      string          `json:"log_level" validate:"omitempty,oneof=trace debug info warn error"`
	StartOnLaunch bool            `json:"start_on_launch"`
	Audio         AudioConfig     `json:"audio"`
	Recording     RecordingConfig `json:"recording"`
	Meter         MeterConfig     `json:"meter"`
	Server        ServerConfig    `json:"server"`

	path string
}

type AudioConfig struct {
	DeviceID string `json:"device_id"` // empty selects the default input device
}

// RecordingConfig is fixed for the lifetime of a measuring run
type RecordingConfig struct {
	SampleRate   int `json:"sample_rate" validate:"gt=0"`
	Channels     int `json:"channels" validate:"eq=1"`
	BitDepth     int `json:"bit_depth" validate:"eq=16"`
	WindowLength int `json:"window_length" validate:"gte=2,pow2"`
}

type MeterConfig struct {
	ReadTimeoutMs     int     `json:"read_timeout_ms" validate:"gte=0"` // 0 waits forever
	ResultBuffer      int     `json:"result_buffer" validate:"gte=1,lte=64"`
	FrequencyFormula  string  `json:"frequency_formula" validate:"oneof=literal bin-width"`
	Impedance         float64 `json:"impedance" validate:"gt=0"`
	ReferencePressure float64 `json:"reference_pressure" validate:"gt=0"`
}

type ServerConfig struct {
	Listen string `json:"listen" validate:"omitempty,hostname_port"` // empty disables the WebSocket feed
}

// ReadTimeout returns the configured read timeout
func (m MeterConfig) ReadTimeout() time.Duration {
	return time.Duration(m.ReadTimeoutMs) * time.Millisecond
}

// Default returns the built-in configuration: 8000 Hz mono 16-bit, 4096-sample windows
func Default() *Config {
	return &Config{
		LogLevel:      "info",
		StartOnLaunch: true,
		Audio: AudioConfig{
			DeviceID: "",
		},
		Recording: RecordingConfig{
			SampleRate:   8000,
			Channels:     1,
			BitDepth:     16,
			WindowLength: 4096,
		},
		Meter: MeterConfig{
			ReadTimeoutMs:     0,
			ResultBuffer:      1,
			FrequencyFormula:  "literal",
			Impedance:         406.2,
			ReferencePressure: 2e-5,
		},
	}
}

// Load reads the config from the platform config dir or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	// Load existing config if it exists
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = configPath()
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Path returns the file this config was loaded from
func (c *Config) Path() string {
	if c.path == "" {
		return configPath()
	}
	return c.path
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, appName, "config.json")
}
