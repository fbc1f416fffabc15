package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"sentinel-ueba/internal/kafka"
	"sentinel-ueba/internal/schema"
)

// Consumer bridges a Kafka event topic into the pipeline.
type Consumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// NewConsumer creates an event consumer for the configured topic. Each
// message is a JSON event in the same wire format as the HTTP endpoint.
func NewConsumer(config kafka.Config, pipeline *Pipeline, logger *slog.Logger) (*Consumer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "event_consumer")

	handler := func(ctx context.Context, _, value []byte) error {
		var input EventInput
		if err := json.Unmarshal(value, &input); err != nil {
			// Malformed payloads are dropped, not redelivered.
			logger.Warn("dropping malformed event message", "error", err)
			return nil
		}
		if _, err := pipeline.Record(ctx, input.toEvent()); err != nil {
			var verr *schema.ValidationError
			if errors.As(err, &verr) {
				logger.Warn("dropping invalid event", "error", err)
				return nil
			}
			return fmt.Errorf("failed to record event: %w", err)
		}
		return nil
	}

	consumer, err := kafka.NewConsumer(config, handler, logger)
	if err != nil {
		return nil, err
	}
	return &Consumer{consumer: consumer, logger: logger}, nil
}

// Start begins consuming in the background.
func (c *Consumer) Start() error { return c.consumer.Start() }

// Stop drains and closes the consumer.
func (c *Consumer) Stop() error { return c.consumer.Stop() }
