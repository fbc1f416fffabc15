// Package kafka wraps segmentio/kafka-go with the producer and consumer
// plumbing used for event ingestion and finding publication.
package kafka

import (
	"errors"
	"fmt"
	"time"
)

// Config holds Kafka connection and tuning settings.
type Config struct {
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumer_group"`

	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	MinBytes       int           `yaml:"min_bytes"`
	MaxBytes       int           `yaml:"max_bytes"`
	MaxWait        time.Duration `yaml:"max_wait"`
	CommitInterval time.Duration `yaml:"commit_interval"`
}

// DefaultConfig returns sensible defaults for a local broker.
func DefaultConfig() Config {
	return Config{
		Brokers:        []string{"localhost:9092"},
		BatchSize:      100,
		BatchTimeout:   time.Second,
		MaxRetries:     3,
		RetryBackoff:   250 * time.Millisecond,
		WriteTimeout:   10 * time.Second,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: at least one broker is required")
	}
	for _, b := range c.Brokers {
		if b == "" {
			return errors.New("kafka: broker address cannot be empty")
		}
	}
	if c.Topic == "" {
		return errors.New("kafka: topic is required")
	}
	return nil
}

// withDefaults fills zero-value tuning fields.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = d.BatchTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MinBytes <= 0 {
		c.MinBytes = d.MinBytes
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = d.MaxBytes
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = d.CommitInterval
	}
	return c
}

// Common errors.
var (
	ErrProducerClosed = fmt.Errorf("kafka: producer is closed")
	ErrConsumerClosed = fmt.Errorf("kafka: consumer is closed")
)
