// Package ingest accepts events over HTTP and Kafka and feeds them
// through the detection pipeline.
package ingest

import (
	"context"

	"sentinel-ueba/internal/behavior"
	"sentinel-ueba/internal/pattern"
	"sentinel-ueba/internal/schema"
)

// Pipeline routes each accepted event into both detection engines: the
// per-user behavioral engine and the global pattern engine.
type Pipeline struct {
	Behavior *behavior.Engine
	Patterns *pattern.Engine

	validator *schema.Validator
}

// NewPipeline creates a pipeline over the two engines.
func NewPipeline(b *behavior.Engine, p *pattern.Engine) *Pipeline {
	return &Pipeline{
		Behavior:  b,
		Patterns:  p,
		validator: schema.NewValidator(),
	}
}

// WithValidator replaces the schema validator, for non-default bounds.
func (p *Pipeline) WithValidator(v *schema.Validator) *Pipeline {
	p.validator = v
	return p
}

// Record validates and records the event. Schema validation runs before
// either engine sees the event, so malformed input never touches engine
// state. The pattern engine evaluates synchronously and its matches are
// dispatched to registered handlers.
func (p *Pipeline) Record(ctx context.Context, event *schema.Event) (*schema.Event, error) {
	if event == nil {
		return nil, schema.NewValidationError("event", "is required")
	}
	if err := p.validator.Validate(event); err != nil {
		return nil, err
	}
	recorded, err := p.Behavior.Record(event)
	if err != nil {
		return nil, err
	}
	if p.Patterns != nil {
		p.Patterns.Process(ctx, recorded)
	}
	return recorded, nil
}
