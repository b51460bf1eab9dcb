package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"tempo too low", func(c *Config) { c.Tempo = 59 }},
		{"tempo too high", func(c *Config) { c.Tempo = 201 }},
		{"negative swing", func(c *Config) { c.Swing = -0.1 }},
		{"swing too high", func(c *Config) { c.Swing = 0.8 }},
		{"bad pattern length", func(c *Config) { c.PatternLength = 12 }},
		{"bad quantization", func(c *Config) { c.Quantization = "1/3" }},
		{"bad clock source", func(c *Config) { c.ClockSource = "satellite" }},
		{"bad recording mode", func(c *Config) { c.RecordingMode = "yolo" }},
		{"negative latency", func(c *Config) { c.AudioLatencyMs = -1 }},
		{"latency too high", func(c *Config) { c.AudioLatencyMs = 501 }},
		{"channel zero", func(c *Config) { c.MIDI.Channel = 0 }},
		{"channel too high", func(c *Config) { c.MIDI.Channel = 17 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestConfigPathUnderConfigDir(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path, err := ConfigPath()
	if err != nil {
		t.Fatal(err)
	}
	if path == "" {
		t.Fatal("empty config path")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Tempo = 137
	cfg.Swing = 0.15
	cfg.MIDI.OutputPort = "Volca Beats"
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}

	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Tempo != 137 || got.Swing != 0.15 {
		t.Errorf("loaded %+v", got)
	}
	if got.MIDI.OutputPort != "Volca Beats" {
		t.Errorf("OutputPort = %q", got.MIDI.OutputPort)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	got, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Tempo != 120 {
		t.Errorf("Tempo = %v, want default 120", got.Tempo)
	}
}

func TestSaveRejectsInvalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	cfg := DefaultConfig()
	cfg.Tempo = 300
	if err := cfg.Save(); err == nil {
		t.Error("invalid config should not be written")
	}
}
