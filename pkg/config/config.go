// Package config loads runtime settings for the support assistant.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v2"

	"github.com/vango-go/soporte-live/pkg/tracing"
)

// Config holds all runtime settings.
type Config struct {
	// Remote service
	APIKey string `json:"api_key" yaml:"api_key"`
	Model  string `json:"model" yaml:"model"`
	Voice  string `json:"voice" yaml:"voice"`

	// Assistant persona
	Company         string `json:"company" yaml:"company"`
	Sender          string `json:"sender" yaml:"sender"`
	InstructionFile string `json:"instruction_file" yaml:"instruction_file"`

	// Case handling
	TicketFormat string        `json:"ticket_format" yaml:"ticket_format"` // re, smc
	EmailDelay   time.Duration `json:"email_delay" yaml:"email_delay"`

	// Audio
	FrameSize     int           `json:"frame_size" yaml:"frame_size"`
	OutboxSize    int           `json:"outbox_size" yaml:"outbox_size"`
	SpeakerBuffer time.Duration `json:"speaker_buffer" yaml:"speaker_buffer"`

	Feed    FeedConfig    `json:"feed" yaml:"feed"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// FeedConfig configures the case feed served to renderers.
type FeedConfig struct {
	// ListenAddr disables the feed when empty.
	ListenAddr     string        `json:"listen_addr" yaml:"listen_addr"`
	VolumeInterval time.Duration `json:"volume_interval" yaml:"volume_interval"`
}

// TracingConfig selects where tool call spans are exported.
type TracingConfig struct {
	Exporter    string            `json:"exporter" yaml:"exporter"` // none, stdout, otlp, otlphttp
	Endpoint    string            `json:"endpoint" yaml:"endpoint"`
	Insecure    bool              `json:"insecure" yaml:"insecure"`
	Headers     map[string]string `json:"headers" yaml:"headers"`
	SampleRatio float64           `json:"sample_ratio" yaml:"sample_ratio"`
	ServiceName string            `json:"service_name" yaml:"service_name"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "json" or "text"
}

func DefaultConfig() *Config {
	return &Config{
		Model:         "gemini-2.5-flash-native-audio-preview-09-2025",
		Company:       "Sistemas Modulares de Computación SpA",
		Sender:        "soporte@smc.cl",
		TicketFormat:  "re",
		EmailDelay:    2 * time.Second,
		FrameSize:     4096,
		OutboxSize:    64,
		SpeakerBuffer: 100 * time.Millisecond,
		Feed: FeedConfig{
			ListenAddr:     "127.0.0.1:8088",
			VolumeInterval: 100 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1,
			ServiceName: "soporte-live",
		},
	}
}

// LoadConfig loads configuration from a YAML or JSON file. If path is
// empty, SOPORTE_CONFIG is tried; if still empty, defaults are returned.
// Environment overrides are not applied.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SOPORTE_CONFIG")
	}
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
		return cfg, nil
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err == nil {
		return cfg, nil
	}
	cfg = DefaultConfig()
	if err := json.Unmarshal(data, cfg); err == nil {
		return cfg, nil
	}
	return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
}

// ApplyEnv overrides settings from the environment.
func (c *Config) ApplyEnv() {
	c.APIKey = firstEnv(c.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY", "API_KEY")
	c.Model = envOr("SOPORTE_MODEL", c.Model)
	c.Voice = envOr("SOPORTE_VOICE", c.Voice)
	c.Sender = envOr("SOPORTE_SENDER", c.Sender)
	c.TicketFormat = envOr("SOPORTE_TICKET_FORMAT", c.TicketFormat)
	c.EmailDelay = envDurationOr("SOPORTE_EMAIL_DELAY", c.EmailDelay)
	c.FrameSize = envIntOr("SOPORTE_FRAME_SIZE", c.FrameSize)
	c.OutboxSize = envIntOr("SOPORTE_OUTBOX_SIZE", c.OutboxSize)
	c.Feed.ListenAddr = envOr("SOPORTE_LISTEN_ADDR", c.Feed.ListenAddr)
	c.Log.Level = envOr("SOPORTE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("SOPORTE_LOG_FORMAT", c.Log.Format)
	c.Tracing.Exporter = envOr("SOPORTE_TRACING_EXPORTER", c.Tracing.Exporter)
	c.Tracing.Endpoint = envOr("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.ServiceName = envOr("OTEL_SERVICE_NAME", c.Tracing.ServiceName)
}

// Validate reports every invalid setting. A missing API key is not an
// error here: it is reported when a session is started.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Model) == "" {
		errs = append(errs, errors.New("model is required"))
	}
	switch strings.ToLower(c.TicketFormat) {
	case "", "re", "smc":
	default:
		errs = append(errs, fmt.Errorf("ticket_format %q must be re or smc", c.TicketFormat))
	}
	if c.EmailDelay < 0 {
		errs = append(errs, fmt.Errorf("email_delay must not be negative, got %s", c.EmailDelay))
	}
	if c.FrameSize <= 0 || c.FrameSize&(c.FrameSize-1) != 0 {
		errs = append(errs, fmt.Errorf("frame_size must be a positive power of two, got %d", c.FrameSize))
	}
	if c.OutboxSize <= 0 {
		errs = append(errs, fmt.Errorf("outbox_size must be positive, got %d", c.OutboxSize))
	}
	if c.SpeakerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("speaker_buffer must be positive, got %s", c.SpeakerBuffer))
	}
	if c.Feed.ListenAddr != "" && c.Feed.VolumeInterval <= 0 {
		errs = append(errs, errors.New("feed.volume_interval must be positive"))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or text", c.Log.Format))
	}
	if !tracing.ValidExporter(c.Tracing.Exporter) {
		errs = append(errs, fmt.Errorf("tracing.exporter %q must be none, stdout, otlp or otlphttp", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a level", c.Log.Level))
	}
	return errors.Join(errs...)
}

func firstEnv(def string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return def
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
