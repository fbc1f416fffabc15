// Package sink delivers detector anomalies and pattern matches to
// downstream destinations.
package sink

import (
	"context"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/pattern"
)

// Sink receives findings emitted by the detection engines.
type Sink interface {
	PublishAnomaly(ctx context.Context, anomaly *behavior.Anomaly) error
	PublishMatch(ctx context.Context, match *pattern.Match) error
	Close() error
}

// Fanout delivers each finding to every sink, continuing past failures.
type Fanout struct {
	sinks []Sink
}

// NewFanout creates a fanout over the given sinks.
func NewFanout(sinks ...Sink) *Fanout {
	return &Fanout{sinks: sinks}
}

// PublishAnomaly sends the anomaly to all sinks, returning the first error.
func (f *Fanout) PublishAnomaly(ctx context.Context, anomaly *behavior.Anomaly) error {
	var first error
	for _, s := range f.sinks {
		if err := s.PublishAnomaly(ctx, anomaly); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// PublishMatch sends the match to all sinks, returning the first error.
func (f *Fanout) PublishMatch(ctx context.Context, match *pattern.Match) error {
	var first error
	for _, s := range f.sinks {
		if err := s.PublishMatch(ctx, match); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes all sinks, returning the first error.
func (f *Fanout) Close() error {
	var first error
	for _, s := range f.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
