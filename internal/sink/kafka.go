package sink

import (
	"context"
	"log/slog"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/kafka"
	"sentinel-ueba/internal/logging"
	"sentinel-ueba/internal/pattern"
)

// KafkaSink publishes findings as JSON messages, keyed for per-user
// partition ordering.
type KafkaSink struct {
	producer     *kafka.Producer
	anomalyTopic string
	matchTopic   string
}

// NewKafkaSink creates a Kafka sink. The producer's default topic is
// unused; findings go to the two explicit topics.
func NewKafkaSink(config kafka.Config, anomalyTopic, matchTopic string, logger *slog.Logger) (*KafkaSink, error) {
	producer, err := kafka.NewProducer(config, logger)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{
		producer:     producer,
		anomalyTopic: anomalyTopic,
		matchTopic:   matchTopic,
	}, nil
}

func (s *KafkaSink) PublishAnomaly(ctx context.Context, anomaly *behavior.Anomaly) error {
	return s.producer.ProduceJSON(ctx, s.anomalyTopic, anomaly.UserID, redactAnomaly(anomaly))
}

// redactAnomaly masks sensitive detail values before the finding leaves
// the process. The engine's stored anomaly is never mutated.
func redactAnomaly(anomaly *behavior.Anomaly) *behavior.Anomaly {
	if anomaly.Details == nil {
		return anomaly
	}
	masked := *anomaly
	masked.Details = logging.MaskMetadata(anomaly.Details)
	return &masked
}

func (s *KafkaSink) PublishMatch(ctx context.Context, match *pattern.Match) error {
	return s.producer.ProduceJSON(ctx, s.matchTopic, match.PatternID, match)
}

func (s *KafkaSink) Close() error {
	return s.producer.Close()
}
