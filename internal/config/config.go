// Package config handles configuration loading for the UEBA server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-ueba/internal/kafka"
	"sentinel-ueba/internal/logging"
	"sentinel-ueba/internal/storage"
	s3cfg "sentinel-ueba/internal/storage/s3"
	"sentinel-ueba/internal/store"
)

// Config holds the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Pattern  PatternConfig  `yaml:"pattern"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Storage  StorageConfig  `yaml:"storage"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Logging  logging.Config `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// IngestConfig holds ingestion limits.
type IngestConfig struct {
	MaxBatchSize   int `yaml:"max_batch_size"`
	MaxPayloadSize int `yaml:"max_payload_size"`
}

// BehaviorConfig holds behavioral engine settings.
type BehaviorConfig struct {
	WindowSize     int           `yaml:"window_size"`
	Threshold      float64       `yaml:"threshold"`
	UpdateInterval time.Duration `yaml:"update_interval"`
	MinDataPoints  int           `yaml:"min_data_points"`
	MaxAnomalies   int           `yaml:"max_anomalies"`
}

// PatternConfig holds pattern engine settings.
type PatternConfig struct {
	BufferSize          int           `yaml:"buffer_size"`
	ConfidenceThreshold float64       `yaml:"confidence_threshold"`
	MaxMatches          int           `yaml:"max_matches"`
	MatchRetention      time.Duration `yaml:"match_retention"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	// CustomDir is a directory of YAML pattern definitions loaded at startup.
	CustomDir string `yaml:"custom_dir"`
}

// KafkaConfig holds the Kafka ingest and publish settings.
type KafkaConfig struct {
	Enabled bool         `yaml:"enabled"`
	Ingest  kafka.Config `yaml:"ingest"`
	// Findings is the producer used for anomaly and match topics.
	Findings     kafka.Config `yaml:"findings"`
	AnomalyTopic string       `yaml:"anomaly_topic"`
	MatchTopic   string       `yaml:"match_topic"`
}

// RedisConfig holds profile persistence settings.
type RedisConfig struct {
	Enabled            bool              `yaml:"enabled"`
	Connection         store.RedisConfig `yaml:"connection"`
	SnapshotTTL        time.Duration     `yaml:"snapshot_ttl"`
	CheckpointInterval time.Duration     `yaml:"checkpoint_interval"`
}

// StorageConfig holds ClickHouse persistence settings.
type StorageConfig struct {
	Enabled    bool                        `yaml:"enabled"`
	ClickHouse storage.ClickHouseConfig    `yaml:"clickhouse"`
	Writer     storage.FindingWriterConfig `yaml:"writer"`
}

// ArchiveConfig holds S3 match archival settings.
type ArchiveConfig struct {
	Enabled bool         `yaml:"enabled"`
	S3      s3cfg.Config `yaml:"s3"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Ingest: IngestConfig{
			MaxBatchSize:   1000,
			MaxPayloadSize: 10 * 1024 * 1024,
		},
		Behavior: BehaviorConfig{
			WindowSize:     1000,
			Threshold:      2.5,
			UpdateInterval: time.Minute,
			MinDataPoints:  50,
			MaxAnomalies:   100,
		},
		Pattern: PatternConfig{
			BufferSize:          1000,
			ConfidenceThreshold: 0.7,
			MaxMatches:          1000,
			MatchRetention:      24 * time.Hour,
			SweepInterval:       5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Ingest: kafka.Config{
				Brokers:       []string{"localhost:9092"},
				Topic:         "ueba.events",
				ConsumerGroup: "ueba-server",
			},
			Findings: kafka.Config{
				Brokers: []string{"localhost:9092"},
				Topic:   "ueba.findings",
			},
			AnomalyTopic: "ueba.anomalies",
			MatchTopic:   "ueba.matches",
		},
		Redis: RedisConfig{
			Connection: store.RedisConfig{
				Addr:        "localhost:6379",
				DialTimeout: 5 * time.Second,
			},
			SnapshotTTL:        7 * 24 * time.Hour,
			CheckpointInterval: 5 * time.Minute,
		},
		Storage: StorageConfig{
			ClickHouse: storage.DefaultClickHouseConfig(),
			Writer:     storage.DefaultFindingWriterConfig(),
		},
		Archive: ArchiveConfig{
			S3: *s3cfg.DefaultConfig(),
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration file, falling back to defaults when no
// file exists, and applies environment overrides.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("UEBA_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("UEBA_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}
	if level := os.Getenv("UEBA_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("UEBA_REDIS_ADDR"); addr != "" {
		c.Redis.Connection.Addr = addr
	}
	if password := os.Getenv("UEBA_REDIS_PASSWORD"); password != "" {
		c.Redis.Connection.Password = password
	}
	if password := os.Getenv("UEBA_CLICKHOUSE_PASSWORD"); password != "" {
		c.Storage.ClickHouse.Password = password
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}
	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}
	if c.Behavior.WindowSize <= 0 {
		return fmt.Errorf("behavior window_size must be positive")
	}
	if c.Behavior.Threshold <= 0 {
		return fmt.Errorf("behavior threshold must be positive")
	}
	if c.Pattern.ConfidenceThreshold <= 0 || c.Pattern.ConfidenceThreshold > 1 {
		return fmt.Errorf("pattern confidence_threshold must be in (0,1]")
	}
	if c.Kafka.Enabled {
		if err := c.Kafka.Ingest.Validate(); err != nil {
			return fmt.Errorf("kafka ingest: %w", err)
		}
		if err := c.Kafka.Findings.Validate(); err != nil {
			return fmt.Errorf("kafka findings: %w", err)
		}
	}
	if c.Archive.Enabled {
		if err := c.Archive.S3.Validate(); err != nil {
			return err
		}
	}
	return nil
}
