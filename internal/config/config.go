// Package config holds the runtime configuration: tunables from a JSON5
// file, secrets from the environment only.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/titanous/json5"
)

// Config is the root configuration for dmflow.
type Config struct {
	Server     ServerConfig     `json:"server"`
	Buffer     BufferConfig     `json:"buffer"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Agent      AgentConfig      `json:"agent"`
	Outbound   OutboundConfig   `json:"outbound"`
	Database   DatabaseConfig   `json:"database"`
	Telemetry  TelemetryConfig  `json:"telemetry"`

	Secrets Secrets `json:"-"`
}

// ServerConfig configures the webhook ingestion listener.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm"` // per-sender webhook events per minute
}

// BufferConfig tunes the aggregation buffer.
type BufferConfig struct {
	DebounceSeconds int `json:"debounce_seconds"` // quiet period before a row is ripe
	MaxRetries      int `json:"max_retries"`
	BaseRetrySecs   int `json:"base_retry_seconds"` // backoff base, doubles per attempt
	MaxRetrySecs    int `json:"max_retry_seconds"`  // backoff cap
}

// DispatcherConfig tunes the poll loop.
type DispatcherConfig struct {
	TickSeconds    int `json:"tick_seconds"`
	BatchSize      int `json:"batch_size"`
	MaxConcurrency int `json:"max_concurrency"` // rows processed in parallel per tick
}

// AgentConfig tunes the conversational orchestrator.
type AgentConfig struct {
	Model             string  `json:"model"`
	SplitterModel     string  `json:"splitter_model"` // cheaper model for long-reply splitting
	VisionModel       string  `json:"vision_model"`
	TranscribeModel   string  `json:"transcribe_model"`
	BaseURL           string  `json:"base_url"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	HistoryTurns      int     `json:"history_turns"`
	MaxToolIterations int     `json:"max_tool_iterations"`
}

// OutboundConfig tunes reply delivery.
type OutboundConfig struct {
	HardLimitChars int `json:"hard_limit_chars"` // platform message size cap
	SoftLimitChars int `json:"soft_limit_chars"` // target size for split segments
	SegmentGapSecs int `json:"segment_gap_seconds"`
	SendsPerMinute int `json:"sends_per_minute"` // global outbound rate
}

// DatabaseConfig selects the storage backend. The Postgres DSN is a secret
// and comes from the environment only.
type DatabaseConfig struct {
	// Backend is "postgres" (default when a DSN is set) or "sqlite".
	Backend    string `json:"backend"`
	SQLitePath string `json:"sqlite_path"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint"`
	ServiceName  string `json:"service_name"`
}

// Secrets are read from the environment only, never from the config file.
type Secrets struct {
	PostgresDSN   string `env:"DMFLOW_POSTGRES_DSN"`
	OpenAIAPIKey  string `env:"DMFLOW_OPENAI_API_KEY"`
	IGAccessToken string `env:"DMFLOW_IG_ACCESS_TOKEN"`
	IGVerifyToken string `env:"DMFLOW_IG_VERIFY_TOKEN"`
	IGPageID      string `env:"DMFLOW_IG_PAGE_ID"`
}

// Default returns a Config with the production defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         18800,
			RateLimitRPM: 30,
		},
		Buffer: BufferConfig{
			DebounceSeconds: 7,
			MaxRetries:      5,
			BaseRetrySecs:   60,
			MaxRetrySecs:    3600,
		},
		Dispatcher: DispatcherConfig{
			TickSeconds:    2,
			BatchSize:      5,
			MaxConcurrency: 4,
		},
		Agent: AgentConfig{
			Model:             "gpt-4o",
			SplitterModel:     "gpt-4o-mini",
			VisionModel:       "gpt-4o",
			TranscribeModel:   "whisper-1",
			BaseURL:           "https://api.openai.com/v1",
			Temperature:       0.7,
			MaxTokens:         2048,
			HistoryTurns:      10,
			MaxToolIterations: 8,
		},
		Outbound: OutboundConfig{
			HardLimitChars: 1000,
			SoftLimitChars: 980,
			SegmentGapSecs: 5,
			SendsPerMinute: 60,
		},
		Database: DatabaseConfig{
			Backend:    "postgres",
			SQLitePath: "dmflow.db",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "dmflow",
		},
	}
}

// Load reads the JSON5 config file (missing file means defaults), then
// parses secrets from the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.Parse(&cfg.Secrets); err != nil {
		return nil, fmt.Errorf("parse env secrets: %w", err)
	}

	if cfg.Secrets.PostgresDSN == "" && cfg.Database.Backend == "postgres" {
		cfg.Database.Backend = "sqlite"
	}
	return cfg, nil
}

// Debounce returns the buffer quiet period as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Buffer.DebounceSeconds) * time.Second
}

// Tick returns the dispatcher poll interval as a duration.
func (c *Config) Tick() time.Duration {
	return time.Duration(c.Dispatcher.TickSeconds) * time.Second
}

// SegmentGap returns the pause between outbound segments.
func (c *Config) SegmentGap() time.Duration {
	return time.Duration(c.Outbound.SegmentGapSecs) * time.Second
}
