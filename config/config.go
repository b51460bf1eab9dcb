package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ClockSourceName selects where tempo comes from
type ClockSourceName string

const (
	ClockInternal       ClockSourceName = "internal"
	ClockExternalAuto   ClockSourceName = "external-auto"
	ClockExternalDevice ClockSourceName = "external-device"
)

// RecordingModeName selects the live-recording merge behavior
type RecordingModeName string

const (
	RecordReplace RecordingModeName = "replace"
	RecordOverdub RecordingModeName = "overdub"
	RecordPunchIn RecordingModeName = "punch-in"
)

// MIDIConfig names the ports the engine talks to
type MIDIConfig struct {
	OutputPort     string `json:"outputPort,omitempty"`
	ClockInputPort string `json:"clockInputPort,omitempty"` // name filter for external clock
	SendClock      bool   `json:"sendClock,omitempty"`
	Channel        uint8  `json:"channel,omitempty"` // 1-16
}

// Config is the main configuration structure
type Config struct {
	Tempo          float64           `json:"tempo"`
	Swing          float64           `json:"swing"`
	PatternLength  int               `json:"patternLength"`
	Quantization   string            `json:"quantization"` // 1/4, 1/8, 1/16, 1/32, off
	ClockSource    ClockSourceName   `json:"clockSource"`
	RecordingMode  RecordingModeName `json:"recordingMode"`
	AudioLatencyMs int               `json:"audioLatencyMs"`
	MIDI           MIDIConfig        `json:"midi"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Tempo:          120,
		Swing:          0,
		PatternLength:  16,
		Quantization:   "1/16",
		ClockSource:    ClockInternal,
		RecordingMode:  RecordOverdub,
		AudioLatencyMs: 10,
		MIDI:           MIDIConfig{Channel: 10, SendClock: true},
	}
}

// Validate rejects out-of-range values instead of coercing them
func (c *Config) Validate() error {
	if c.Tempo < 60 || c.Tempo > 200 {
		return fmt.Errorf("config: tempo %v out of range [60, 200]", c.Tempo)
	}
	if c.Swing < 0 || c.Swing > 0.75 {
		return fmt.Errorf("config: swing %v out of range [0, 0.75]", c.Swing)
	}
	switch c.PatternLength {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("config: pattern length %d must be 8, 16, 24 or 32", c.PatternLength)
	}
	switch c.Quantization {
	case "off", "1/4", "1/8", "1/16", "1/32":
	default:
		return fmt.Errorf("config: unknown quantization %q", c.Quantization)
	}
	switch c.ClockSource {
	case ClockInternal, ClockExternalAuto, ClockExternalDevice:
	default:
		return fmt.Errorf("config: unknown clock source %q", c.ClockSource)
	}
	switch c.RecordingMode {
	case RecordReplace, RecordOverdub, RecordPunchIn:
	default:
		return fmt.Errorf("config: unknown recording mode %q", c.RecordingMode)
	}
	if c.AudioLatencyMs < 0 || c.AudioLatencyMs > 500 {
		return fmt.Errorf("config: audio latency %dms out of range [0, 500]", c.AudioLatencyMs)
	}
	if c.MIDI.Channel < 1 || c.MIDI.Channel > 16 {
		return fmt.Errorf("config: MIDI channel %d out of range [1, 16]", c.MIDI.Channel)
	}
	return nil
}

// ConfigDir returns the config directory path
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "go-gridbeat"), nil
}

// ConfigPath returns the full path to config.json
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config from disk, or returns defaults if not found
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	if err := c.Validate(); err != nil {
		return err
	}

	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	path, err := ConfigPath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
