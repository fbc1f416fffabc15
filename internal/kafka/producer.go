package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer publishes messages to Kafka with retry and exponential backoff.
type Producer struct {
	writer *kafka.Writer
	config Config
	logger *slog.Logger
	closed atomic.Bool

	produced atomic.Int64
	failed   atomic.Int64
}

// NewProducer creates a Kafka producer for the configured topic.
func NewProducer(config Config, logger *slog.Logger) (*Producer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    config.BatchSize,
		BatchTimeout: config.BatchTimeout,
		MaxAttempts:  config.MaxRetries + 1,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka producer initialized",
		"brokers", config.Brokers,
		"topic", config.Topic)

	return &Producer{writer: writer, config: config, logger: logger}, nil
}

// Produce sends a single message to the producer's topic.
func (p *Producer) Produce(ctx context.Context, key, value []byte) error {
	return p.produce(ctx, kafka.Message{Key: key, Value: value, Time: time.Now()})
}

// ProduceToTopic sends a message to a specific topic, overriding the default.
func (p *Producer) ProduceToTopic(ctx context.Context, topic string, key, value []byte) error {
	return p.produce(ctx, kafka.Message{Topic: topic, Key: key, Value: value, Time: time.Now()})
}

// ProduceJSON marshals the value to JSON and sends it to the given topic.
func (p *Producer) ProduceJSON(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal message: %w", err)
	}
	return p.ProduceToTopic(ctx, topic, []byte(key), data)
}

func (p *Producer) produce(ctx context.Context, msg kafka.Message) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	var lastErr error
	backoff := p.config.RetryBackoff
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		if err := p.writer.WriteMessages(ctx, msg); err != nil {
			lastErr = err
			p.failed.Add(1)
			p.logger.Warn("kafka produce failed",
				"error", err,
				"attempt", attempt+1)
			continue
		}
		p.produced.Add(1)
		return nil
	}
	return fmt.Errorf("kafka: failed after %d attempts: %w", p.config.MaxRetries+1, lastErr)
}

// Stats returns counters for produced and failed messages.
func (p *Producer) Stats() (produced, failed int64) {
	return p.produced.Load(), p.failed.Load()
}

// Close flushes buffered messages and closes the writer. Idempotent.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	p.logger.Info("closing kafka producer", "produced", p.produced.Load())
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close producer: %w", err)
	}
	return nil
}
