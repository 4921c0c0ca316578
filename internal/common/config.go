package common

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/etlplatform/internal/interfaces"
)

// Config represents the ETL service configuration.
type Config struct {
	Environment  string             `toml:"environment"` // "development" or "production"
	Server       ServerConfig       `toml:"server"`
	Queue        QueueConfig        `toml:"queue"`
	Storage      StorageConfig      `toml:"storage"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Embedding    EmbeddingConfig    `toml:"embedding"`
	Logging      LoggingConfig      `toml:"logging"`
	Variables    KeysDirConfig      `toml:"variables"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// QueueConfig configures the Badger-backed queue broker (internal/queue).
// Durations are stored as strings and parsed once at startup, matching the
// teacher's convention of never reloading config live.
type QueueConfig struct {
	PollInterval             string `toml:"poll_interval"`               // worker poll tick, e.g. "1s"
	ExtractConcurrency       int    `toml:"extract_concurrency"`         // extract workers (usually 1 per job/step is enough; concurrency is across jobs)
	TransformConcurrency     int    `toml:"transform_concurrency"`       // transform workers
	EmbedConcurrency         int    `toml:"embed_concurrency"`           // embed workers
	VisibilityTimeoutExtract string `toml:"visibility_timeout_extract"`  // default "10m"
	VisibilityTimeoutOther   string `toml:"visibility_timeout_other"`    // default "2m" for transform/embed
	MaxReceive               int    `toml:"max_receive"`                 // default 5 (max redelivery attempts)
	ExtractQueueHWM          int    `toml:"extract_queue_high_water_mark"` // default 10000
	ExtractQueueLWM          int    `toml:"extract_queue_low_water_mark"`  // default 5000
	DefaultBatchSize         int    `toml:"default_batch_size"`          // extractor pagination size, default 100
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
	SQLite SQLiteConfig `toml:"sqlite"`
}

type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type SQLiteConfig struct {
	Path string `toml:"path"`
}

// OrchestratorConfig drives the Job Registry poll loop.
type OrchestratorConfig struct {
	TickInterval     string `toml:"tick_interval"`     // default "30s"
	RunawayThreshold string `toml:"runaway_threshold"` // default "1h"; reconciler aborts RUNNING jobs older than this
}

// EmbeddingConfig selects and configures the EmbeddingProvider implementation.
type EmbeddingConfig struct {
	Provider  string `toml:"provider"`  // "offline" (deterministic local hash-embedding) or "http" (external API)
	Dimension int    `toml:"dimension"` // vector dimension, fixed per collection
	Endpoint  string `toml:"endpoint"`  // base URL for "http" provider
	APIKey    string `toml:"api_key"`   // may reference a {key-name} resolved from the KV store
}

type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Output     []string `toml:"output"`
	TimeFormat string   `toml:"time_format"`
}

type KeysDirConfig struct {
	Dir string `toml:"dir"`
}

// NewDefaultConfig returns production-sane defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Queue: QueueConfig{
			PollInterval:             "1s",
			ExtractConcurrency:       5,
			TransformConcurrency:     10,
			EmbedConcurrency:         10,
			VisibilityTimeoutExtract: "10m",
			VisibilityTimeoutOther:   "2m",
			MaxReceive:               5,
			ExtractQueueHWM:          10000,
			ExtractQueueLWM:          5000,
			DefaultBatchSize:         100,
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{Path: "./data/badger"},
			SQLite: SQLiteConfig{Path: "./data/etl.db"},
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:     "30s",
			RunawayThreshold: "1h",
		},
		Embedding: EmbeddingConfig{
			Provider:  "offline",
			Dimension: 256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     []string{"stdout", "file"},
			TimeFormat: "15:04:05.000",
		},
		Variables: KeysDirConfig{Dir: "./"},
	}
}

// LoadFromFiles loads configuration with priority default -> file1 -> ... -> env.
// kvStorage may be nil; when present, {key-name} references in the loaded config
// are resolved against it (e.g. embedding.api_key = "{openai-api-key}").
func LoadFromFiles(kvStorage interfaces.KeyValueStorage, paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	if kvStorage != nil {
		ctx := context.Background()
		kvMap, err := kvStorage.GetAll(ctx)
		if err != nil {
			arbor.NewLogger().Warn().Err(err).Msg("failed to fetch KV map for config replacement, skipping")
		} else if err := ReplaceInStruct(config, kvMap, arbor.NewLogger()); err != nil {
			arbor.NewLogger().Warn().Err(err).Msg("failed to replace key references in config")
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

func applyEnvOverrides(config *Config) {
	if env := os.Getenv("ETL_ENV"); env != "" {
		config.Environment = env
	}
	if port := os.Getenv("ETL_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("ETL_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.MaxReceive = n
		}
	}
	if v := os.Getenv("VISIBILITY_TIMEOUT_EXTRACT"); v != "" {
		config.Queue.VisibilityTimeoutExtract = v
	}
	if v := os.Getenv("VISIBILITY_TIMEOUT_OTHER"); v != "" {
		config.Queue.VisibilityTimeoutOther = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		config.Orchestrator.TickInterval = v
	}
	if v := os.Getenv("EXTRACT_QUEUE_HWM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.ExtractQueueHWM = n
		}
	}
	if v := os.Getenv("EXTRACT_QUEUE_LWM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.ExtractQueueLWM = n
		}
	}
	if v := os.Getenv("DEFAULT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Queue.DefaultBatchSize = n
		}
	}
}

// ParseDuration parses a config duration string, returning fallback on error
// or empty input. Centralizes the "durations are strings in TOML" convention.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
