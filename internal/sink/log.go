package sink

import (
	"context"
	"log/slog"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/pattern"
)

// LogSink writes findings to the structured log. It is always enabled so
// an operator has a signal even when every other sink is down.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "findings")}
}

func (s *LogSink) PublishAnomaly(_ context.Context, anomaly *behavior.Anomaly) error {
	s.logger.Warn("behavioral anomaly detected",
		"anomaly_id", anomaly.ID,
		"user_id", anomaly.UserID,
		"type", anomaly.Type,
		"severity", anomaly.Severity,
		"confidence", anomaly.Confidence)
	return nil
}

func (s *LogSink) PublishMatch(_ context.Context, match *pattern.Match) error {
	s.logger.Warn("attack pattern matched",
		"match_id", match.ID,
		"pattern_id", match.PatternID,
		"severity", match.Severity,
		"confidence", match.Confidence,
		"event_count", match.EventCount)
	return nil
}

func (s *LogSink) Close() error { return nil }
