package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all runtime configuration, loaded from the environment.
type Config struct {
	Source   SourceConfig   `envPrefix:"FLEET_"`
	Storage  StorageConfig  `envPrefix:"STORAGE_"`
	Pipeline PipelineConfig `envPrefix:"PIPELINE_"`
	Database DatabaseConfig `envPrefix:"DB_"`
	Server   ServerConfig   `envPrefix:"SERVER_"`
	Logging  LoggingConfig  `envPrefix:"LOG_"`
}

// SourceConfig configures the fleet data-source API client.
type SourceConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"https://api.hoppe-sts.com/"`
	APIKey  string        `env:"API_KEY"`
	Timeout time.Duration `env:"TIMEOUT" envDefault:"45s"`
	Retries int           `env:"RETRIES" envDefault:"5"`
}

// StorageConfig configures the partitioned file store.
type StorageConfig struct {
	RawPath         string `env:"RAW_PATH" envDefault:"./data/raw_data"`
	TransformedPath string `env:"TRANSFORMED_PATH" envDefault:"./data/transformed_data"`
	GapsPath        string `env:"GAPS_PATH" envDefault:"./data/gaps_data"`
	LatestPath      string `env:"LATEST_PATH" envDefault:"./data/latest"`
	DailyPath       string `env:"DAILY_PATH" envDefault:"./data/daily_summary"`
}

// PipelineConfig configures the per-run processing behaviour.
type PipelineConfig struct {
	BatchSize  int `env:"BATCH_SIZE" envDefault:"1000"`
	MaxWorkers int `env:"MAX_WORKERS" envDefault:"8"`
	DaysToKeep int `env:"DAYS_TO_KEEP" envDefault:"90"`
	// HistoryDays bounds the rolling dedup backstop: historical rows with a
	// load date at or beyond this age are pruned every run.
	HistoryDays int `env:"HISTORY_DAYS" envDefault:"5"`
	// GapMergeThreshold is the maximum spacing between two null samples that
	// still counts as one contiguous gap. The two legacy pipelines disagreed
	// (5m vs 15m); the default follows the stricter one.
	GapMergeThreshold time.Duration `env:"GAP_MERGE_THRESHOLD" envDefault:"5m"`
	// MaxPivotSignals caps the wide-table column count; 0 disables the cap.
	MaxPivotSignals int `env:"MAX_PIVOT_SIGNALS" envDefault:"500"`
	// SinkEnabled controls whether the run publishes to the relational sink.
	SinkEnabled bool `env:"SINK_ENABLED" envDefault:"false"`
}

// DatabaseConfig configures the PostgreSQL sink connection.
type DatabaseConfig struct {
	Host            string        `env:"HOST" envDefault:"localhost"`
	Port            int           `env:"PORT" envDefault:"5432"`
	User            string        `env:"USER" envDefault:"postgres"`
	Password        string        `env:"PASSWORD" envDefault:"postgres"`
	Database        string        `env:"NAME" envDefault:"fleet_telemetry"`
	SSLMode         string        `env:"SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `env:"CONN_MAX_IDLE_TIME" envDefault:"5m"`
}

// ServerConfig configures the query API server.
type ServerConfig struct {
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `env:"LEVEL" envDefault:"info"`
}

// LoadConfig reads configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants that env parsing cannot express.
func (c *Config) Validate() error {
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive, got %d", c.Pipeline.MaxWorkers)
	}
	if c.Pipeline.HistoryDays < 0 {
		return fmt.Errorf("history days must not be negative, got %d", c.Pipeline.HistoryDays)
	}
	if c.Pipeline.GapMergeThreshold <= 0 {
		return fmt.Errorf("gap merge threshold must be positive, got %s", c.Pipeline.GapMergeThreshold)
	}
	if c.Pipeline.MaxPivotSignals < 0 {
		return fmt.Errorf("max pivot signals must not be negative, got %d", c.Pipeline.MaxPivotSignals)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}
