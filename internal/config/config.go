package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/audiolibrelab/disconium/internal/recognition"

	"github.com/spf13/viper"
)

// DefaultHost is the provider region used when none is configured.
const DefaultHost = "identify-eu-west-1.acrcloud.com"

// MaxRecordingDuration is the hard ceiling on a single capture.
const MaxRecordingDuration = 10 * time.Second

type Config struct {
	Recognition RecognitionConfig `mapstructure:"recognition" yaml:"recognition"`
	Recorder    RecorderConfig    `mapstructure:"recorder" yaml:"recorder"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Bus         BusConfig         `mapstructure:"bus" yaml:"bus"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry" yaml:"telemetry"`
}

type RecognitionConfig struct {
	Host           string  `mapstructure:"host" yaml:"host"`
	AccessKey      string  `mapstructure:"access_key" yaml:"access_key"`
	AccessSecret   string  `mapstructure:"access_secret" yaml:"access_secret"`
	Bucket         string  `mapstructure:"bucket" yaml:"bucket"` // empty disables the private tier
	TimeoutMs      int     `mapstructure:"timeout_ms" yaml:"timeout_ms"`
	MinSampleBytes int     `mapstructure:"min_sample_bytes" yaml:"min_sample_bytes"`
	MaxSampleBytes int     `mapstructure:"max_sample_bytes" yaml:"max_sample_bytes"`
	RatePerSecond  float64 `mapstructure:"rate_per_second" yaml:"rate_per_second"`
}

type RecorderConfig struct {
	FFmpeg        string `mapstructure:"ffmpeg" yaml:"ffmpeg"`
	Input         string `mapstructure:"input" yaml:"input"`                 // ffmpeg input arguments, shell syntax
	DeviceFormat  string `mapstructure:"device_format" yaml:"device_format"` // used by "sources"
	MaxDurationMs int    `mapstructure:"max_duration_ms" yaml:"max_duration_ms"`
	SampleRate    int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels      int    `mapstructure:"channels" yaml:"channels"`
	Bitrate       int    `mapstructure:"bitrate" yaml:"bitrate"`
}

type ServerConfig struct {
	Bind string `mapstructure:"bind" yaml:"bind"`
	Port int    `mapstructure:"port" yaml:"port"`
}

type BusConfig struct {
	Enabled          bool     `mapstructure:"enabled" yaml:"enabled"`
	Embedded         bool     `mapstructure:"embedded" yaml:"embedded"`
	Port             int      `mapstructure:"port" yaml:"port"`
	Servers          []string `mapstructure:"servers" yaml:"servers"`
	Username         string   `mapstructure:"username" yaml:"username"`
	Password         string   `mapstructure:"password" yaml:"password"`
	Token            string   `mapstructure:"token" yaml:"token"`
	ConnectTimeoutMs int      `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	Subject          string   `mapstructure:"subject" yaml:"subject"`
}

type HistoryConfig struct {
	Enabled       bool   `mapstructure:"enabled" yaml:"enabled"`
	Path          string `mapstructure:"path" yaml:"path"`
	RetentionDays int    `mapstructure:"retention_days" yaml:"retention_days"`
}

type TelemetryConfig struct {
	ServiceName  string `mapstructure:"service_name" yaml:"service_name"`
	Environment  string `mapstructure:"environment" yaml:"environment"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure" yaml:"otlp_insecure"`
	TraceStdout  bool   `mapstructure:"trace_stdout" yaml:"trace_stdout"`
}

var defaultConfig = Config{
	Recognition: RecognitionConfig{
		Host:           DefaultHost,
		Bucket:         "disconium_music",
		TimeoutMs:      15000,
		MinSampleBytes: 32 * 1024,
		MaxSampleBytes: 5 * 1024 * 1024,
		RatePerSecond:  2,
	},
	Recorder: RecorderConfig{
		FFmpeg:        "ffmpeg",
		Input:         "-f pulse -i default",
		DeviceFormat:  "pulse",
		MaxDurationMs: 10000,
		SampleRate:    44100,
		Channels:      1,
		Bitrate:       128000,
	},
	Server: ServerConfig{
		Bind: "0.0.0.0",
		Port: 8080,
	},
	Bus: BusConfig{
		Enabled:          false,
		Embedded:         false,
		Port:             4222,
		Servers:          []string{"nats://127.0.0.1:4222"},
		ConnectTimeoutMs: 2000,
		Subject:          "disconium.discovery.matched",
	},
	History: HistoryConfig{
		Enabled:       true,
		Path:          "~/.local/share/disconium/history.db",
		RetentionDays: 90,
	},
	Telemetry: TelemetryConfig{
		ServiceName: "disconium",
		Environment: "local",
	},
}

// Default returns a copy of the built-in configuration.
func Default() Config {
	cfg := defaultConfig
	cfg.Bus.Servers = append([]string(nil), defaultConfig.Bus.Servers...)
	return cfg
}

// Load resolves configuration from defaults, the optional YAML file and the
// environment. An empty configFile skips the file; a named file must exist.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DISCONIUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Provider credentials keep the names used by the existing deployments.
	bindings := map[string][]string{
		"recognition.access_key":    {"DISCONIUM_RECOGNITION_ACCESS_KEY", "ACRCLOUD_ACCESS_KEY"},
		"recognition.access_secret": {"DISCONIUM_RECOGNITION_ACCESS_SECRET", "ACRCLOUD_ACCESS_SECRET"},
		"recognition.host":          {"DISCONIUM_RECOGNITION_HOST", "ACRCLOUD_HOST"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	cfg.History.Path = expandPath(cfg.History.Path)
	cfg.Recognition.Host = strings.TrimSpace(cfg.Recognition.Host)
	if cfg.Recognition.Host == "" {
		cfg.Recognition.Host = DefaultHost
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// DefaultPath returns the per-user config file location.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/disconium.yaml")
}

func setDefaults(v *viper.Viper) {
	d := defaultConfig

	v.SetDefault("recognition.host", d.Recognition.Host)
	v.SetDefault("recognition.access_key", "")
	v.SetDefault("recognition.access_secret", "")
	v.SetDefault("recognition.bucket", d.Recognition.Bucket)
	v.SetDefault("recognition.timeout_ms", d.Recognition.TimeoutMs)
	v.SetDefault("recognition.min_sample_bytes", d.Recognition.MinSampleBytes)
	v.SetDefault("recognition.max_sample_bytes", d.Recognition.MaxSampleBytes)
	v.SetDefault("recognition.rate_per_second", d.Recognition.RatePerSecond)

	v.SetDefault("recorder.ffmpeg", d.Recorder.FFmpeg)
	v.SetDefault("recorder.input", d.Recorder.Input)
	v.SetDefault("recorder.device_format", d.Recorder.DeviceFormat)
	v.SetDefault("recorder.max_duration_ms", d.Recorder.MaxDurationMs)
	v.SetDefault("recorder.sample_rate", d.Recorder.SampleRate)
	v.SetDefault("recorder.channels", d.Recorder.Channels)
	v.SetDefault("recorder.bitrate", d.Recorder.Bitrate)

	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)

	v.SetDefault("bus.enabled", d.Bus.Enabled)
	v.SetDefault("bus.embedded", d.Bus.Embedded)
	v.SetDefault("bus.port", d.Bus.Port)
	v.SetDefault("bus.servers", d.Bus.Servers)
	v.SetDefault("bus.username", "")
	v.SetDefault("bus.password", "")
	v.SetDefault("bus.token", "")
	v.SetDefault("bus.connect_timeout_ms", d.Bus.ConnectTimeoutMs)
	v.SetDefault("bus.subject", d.Bus.Subject)

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("history.retention_days", d.History.RetentionDays)

	v.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	v.SetDefault("telemetry.environment", d.Telemetry.Environment)
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)
	v.SetDefault("telemetry.trace_stdout", false)
}

// Validate checks the parts of the configuration that are needed before any
// command runs. Credentials are checked later, when an attempt starts.
func (c *Config) Validate() error {
	var errs []error

	r := c.Recognition
	if r.TimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("recognition.timeout_ms must be positive, got %d", r.TimeoutMs))
	}
	if r.MinSampleBytes <= 0 {
		errs = append(errs, fmt.Errorf("recognition.min_sample_bytes must be positive, got %d", r.MinSampleBytes))
	}
	if r.MaxSampleBytes < r.MinSampleBytes {
		errs = append(errs, fmt.Errorf("recognition.max_sample_bytes (%d) is below min_sample_bytes (%d)", r.MaxSampleBytes, r.MinSampleBytes))
	}
	if r.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("recognition.rate_per_second cannot be negative"))
	}

	rec := c.Recorder
	if rec.MaxDurationMs <= 0 {
		errs = append(errs, fmt.Errorf("recorder.max_duration_ms must be positive, got %d", rec.MaxDurationMs))
	}
	if rec.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("recorder.sample_rate must be positive, got %d", rec.SampleRate))
	}
	if rec.Channels != 1 && rec.Channels != 2 {
		errs = append(errs, fmt.Errorf("recorder.channels must be 1 or 2, got %d", rec.Channels))
	}
	if strings.TrimSpace(rec.FFmpeg) == "" {
		errs = append(errs, errors.New("recorder.ffmpeg cannot be empty"))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	if c.Bus.Enabled {
		if !c.Bus.Embedded && len(c.Bus.Servers) == 0 {
			errs = append(errs, errors.New("bus.servers must list at least one server when the bus is enabled"))
		}
		if strings.TrimSpace(c.Bus.Subject) == "" {
			errs = append(errs, errors.New("bus.subject cannot be empty"))
		}
	}

	if c.History.Enabled && strings.TrimSpace(c.History.Path) == "" {
		errs = append(errs, errors.New("history.path cannot be empty when history is enabled"))
	}

	return errors.Join(errs...)
}

// Timeout bounds a single provider call.
func (r RecognitionConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// Credentials implements recognition.CredentialSource from the resolved
// configuration. No validation happens here; the recognition client owns it.
func (r RecognitionConfig) Credentials(context.Context) (recognition.Credentials, error) {
	return recognition.Credentials{
		AccessKey:    strings.TrimSpace(r.AccessKey),
		AccessSecret: strings.TrimSpace(r.AccessSecret),
		Host:         r.Host,
	}, nil
}

// MaxDuration is the auto-stop delay, never longer than MaxRecordingDuration.
func (r RecorderConfig) MaxDuration() time.Duration {
	d := time.Duration(r.MaxDurationMs) * time.Millisecond
	if d <= 0 || d > MaxRecordingDuration {
		return MaxRecordingDuration
	}
	return d
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	out := c
	out.Recognition.AccessKey = recognition.MaskKey(c.Recognition.AccessKey)
	if c.Recognition.AccessSecret != "" {
		out.Recognition.AccessSecret = "********"
	}
	if c.Bus.Password != "" {
		out.Bus.Password = "********"
	}
	if c.Bus.Token != "" {
		out.Bus.Token = "********"
	}
	return out
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
