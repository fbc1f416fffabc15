package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageHandler processes a consumed message. Returning an error leaves
// the offset uncommitted so the message is redelivered.
type MessageHandler func(ctx context.Context, key, value []byte) error

// Consumer reads messages from a topic as part of a consumer group.
type Consumer struct {
	reader  *kafka.Reader
	config  Config
	logger  *slog.Logger
	handler MessageHandler

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	consumed atomic.Int64
	failures atomic.Int64
}

// NewConsumer creates a Kafka consumer bound to the configured topic and
// consumer group.
func NewConsumer(config Config, handler MessageHandler, logger *slog.Logger) (*Consumer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.ConsumerGroup == "" {
		return nil, errors.New("kafka: consumer group is required")
	}
	if handler == nil {
		return nil, errors.New("kafka: message handler is required")
	}
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		GroupID:        config.ConsumerGroup,
		Topic:          config.Topic,
		MinBytes:       config.MinBytes,
		MaxBytes:       config.MaxBytes,
		MaxWait:        config.MaxWait,
		CommitInterval: config.CommitInterval,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		reader:  reader,
		config:  config,
		logger:  logger,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	logger.Info("kafka consumer initialized",
		"brokers", config.Brokers,
		"topic", config.Topic,
		"group", config.ConsumerGroup)

	return c, nil
}

// Start begins consuming in a background goroutine.
func (c *Consumer) Start() error {
	if c.started.Swap(true) {
		return errors.New("kafka: consumer already started")
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("consumer loop exited", "error", err)
		}
	}()
	return nil
}

func (c *Consumer) consumeLoop() error {
	for {
		msg, err := c.reader.FetchMessage(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			c.logger.Error("failed to fetch message", "error", err)
			select {
			case <-c.ctx.Done():
				return c.ctx.Err()
			case <-time.After(time.Second):
				continue
			}
		}

		if err := c.process(msg); err != nil {
			c.failures.Add(1)
			c.logger.Error("failed to process message",
				"error", err,
				"partition", msg.Partition,
				"offset", msg.Offset)
			// Offset stays uncommitted for redelivery.
			continue
		}

		if err := c.reader.CommitMessages(c.ctx, msg); err != nil {
			c.logger.Error("failed to commit offset",
				"error", err,
				"offset", msg.Offset)
		}
		c.consumed.Add(1)
	}
}

func (c *Consumer) process(msg kafka.Message) error {
	ctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()
	return c.handler(ctx, msg.Key, msg.Value)
}

// Stats returns counters for consumed messages and handler failures.
func (c *Consumer) Stats() (consumed, failures int64) {
	return c.consumed.Load(), c.failures.Load()
}

// Stop cancels the consume loop and closes the reader. Idempotent.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Info("stopping kafka consumer", "consumed", c.consumed.Load())
	c.cancel()
	c.wg.Wait()
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close consumer: %w", err)
	}
	return nil
}
