package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate_Default(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected default config to be valid, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Recognition.TimeoutMs = 0 }, "timeout_ms"},
		{"inverted sample bounds", func(c *Config) { c.Recognition.MaxSampleBytes = 10 }, "max_sample_bytes"},
		{"bad channels", func(c *Config) { c.Recorder.Channels = 6 }, "recorder.channels"},
		{"empty ffmpeg", func(c *Config) { c.Recorder.FFmpeg = " " }, "recorder.ffmpeg"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bus without servers", func(c *Config) {
			c.Bus.Enabled = true
			c.Bus.Servers = nil
		}, "bus.servers"},
		{"history without path", func(c *Config) { c.History.Path = "" }, "history.path"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), test.want) {
				t.Errorf("Expected error mentioning %q, got: %v", test.want, err)
			}
		})
	}
}

func TestValidate_EmbeddedBusNeedsNoServers(t *testing.T) {
	cfg := Default()
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Servers = nil
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected embedded bus to validate, got: %v", err)
	}
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	clearEnv(t)

	configFile := createTempConfig(t, "recorder:\n  channels: 4\n")

	_, err := Load(configFile)
	if err == nil {
		t.Fatal("Expected validation error")
	}
	if !strings.Contains(err.Error(), "config validation failed") {
		t.Errorf("Expected validation failure, got: %v", err)
	}
}

func createTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disconium-test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}
