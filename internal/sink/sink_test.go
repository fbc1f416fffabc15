package sink

import (
	"context"
	"errors"
	"testing"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/pattern"
)

type countingSink struct {
	anomalies int
	matches   int
	err       error
}

func (s *countingSink) PublishAnomaly(context.Context, *behavior.Anomaly) error {
	s.anomalies++
	return s.err
}

func (s *countingSink) PublishMatch(context.Context, *pattern.Match) error {
	s.matches++
	return s.err
}

func (s *countingSink) Close() error { return s.err }

func TestFanout_DeliversPastFailures(t *testing.T) {
	failing := &countingSink{err: errors.New("broker down")}
	healthy := &countingSink{}
	f := NewFanout(failing, healthy)

	ctx := context.Background()
	if err := f.PublishAnomaly(ctx, &behavior.Anomaly{}); err == nil {
		t.Error("fanout should surface the first error")
	}
	if err := f.PublishMatch(ctx, &pattern.Match{}); err == nil {
		t.Error("fanout should surface the first error")
	}

	if healthy.anomalies != 1 || healthy.matches != 1 {
		t.Errorf("healthy sink received %d/%d findings, want 1/1",
			healthy.anomalies, healthy.matches)
	}
}

func TestRedactAnomaly(t *testing.T) {
	anomaly := &behavior.Anomaly{
		UserID: "alice",
		Type:   behavior.AnomalyNewDevice,
		Details: map[string]any{
			"user_agent": "curl/8.0",
			"api_token":  "abc123",
		},
	}

	redacted := redactAnomaly(anomaly)
	if redacted.Details["api_token"] != "[REDACTED]" {
		t.Errorf("api_token = %v, want masked", redacted.Details["api_token"])
	}
	if redacted.Details["user_agent"] != "curl/8.0" {
		t.Errorf("user_agent altered: %v", redacted.Details["user_agent"])
	}
	// The original finding is untouched.
	if anomaly.Details["api_token"] != "abc123" {
		t.Error("redactAnomaly mutated the stored anomaly")
	}

	plain := &behavior.Anomaly{UserID: "bob"}
	if redactAnomaly(plain) != plain {
		t.Error("anomaly without details should pass through unchanged")
	}
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(nil)
	ctx := context.Background()
	if err := s.PublishAnomaly(ctx, &behavior.Anomaly{UserID: "alice"}); err != nil {
		t.Errorf("PublishAnomaly: %v", err)
	}
	if err := s.PublishMatch(ctx, &pattern.Match{PatternID: "api_abuse"}); err != nil {
		t.Errorf("PublishMatch: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
