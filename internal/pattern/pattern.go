// Package pattern provides declarative, multi-condition attack-pattern
// rules evaluated over a sliding window of events.
package pattern

import (
	"fmt"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"sentinel-ueba/internal/schema"
)

// ConditionType defines the type of a pattern condition.
type ConditionType string

const (
	// ConditionEventCount holds when the count of matching events reaches
	// the threshold.
	ConditionEventCount ConditionType = "event_count"
	// ConditionEventSequence holds when the event types appear in order
	// as a subsequence of the window. Unrelated events may occur between
	// steps; only the relative order matters.
	ConditionEventSequence ConditionType = "event_sequence"
	// ConditionUniqueFieldCount holds when distinct values of a field
	// reach the threshold.
	ConditionUniqueFieldCount ConditionType = "unique_field_count"
	// ConditionSameFieldValue holds when a field is constant across the window.
	ConditionSameFieldValue ConditionType = "same_field_value"
	// ConditionFieldPattern holds when a field's regex match rate reaches
	// the minimum rate.
	ConditionFieldPattern ConditionType = "field_pattern"
	// ConditionFieldAggregate holds when an aggregate of a numeric field
	// reaches the threshold.
	ConditionFieldAggregate ConditionType = "field_aggregate"
)

// Condition is one clause of a pattern. All of a pattern's conditions
// must hold for the pattern to match (AND semantics).
type Condition struct {
	Type  ConditionType `yaml:"type" json:"type"`
	Field string        `yaml:"field,omitempty" json:"field,omitempty"`
	// Value filters events by field equality (event_count).
	Value any `yaml:"value,omitempty" json:"value,omitempty"`
	// Values filters events by field membership, as an alternative to Value.
	Values    []string `yaml:"values,omitempty" json:"values,omitempty"`
	Threshold float64  `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	// Sequence lists event types that must appear in order, with gaps
	// permitted (event_sequence).
	Sequence []string `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	// Pattern is the regex for field_pattern conditions.
	Pattern string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	// MinMatchRate is the minimum regex match rate; defaults to 0.5.
	MinMatchRate float64 `yaml:"min_match_rate,omitempty" json:"min_match_rate,omitempty"`
	// Function is the aggregate function: sum (default), avg, max, min.
	Function string `yaml:"function,omitempty" json:"function,omitempty"`
}

// Result is the outcome of evaluating one condition against a window.
type Result struct {
	Type       ConditionType `json:"type"`
	Met        bool          `json:"met"`
	Confidence float64       `json:"confidence"`
}

// Validate validates a condition definition. Regex compilation is
// deliberately deferred to evaluation so a bad custom pattern degrades
// to a non-match instead of rejecting the catalog.
func (c *Condition) Validate() error {
	switch c.Type {
	case ConditionEventCount, ConditionUniqueFieldCount, ConditionFieldAggregate:
		if c.Threshold <= 0 {
			return fmt.Errorf("%s condition requires a positive threshold", c.Type)
		}
		if c.Type != ConditionEventCount && c.Field == "" {
			return fmt.Errorf("%s condition requires a field", c.Type)
		}
	case ConditionEventSequence:
		if len(c.Sequence) < 2 {
			return fmt.Errorf("event_sequence condition requires at least 2 steps")
		}
	case ConditionSameFieldValue:
		if c.Field == "" {
			return fmt.Errorf("same_field_value condition requires a field")
		}
	case ConditionFieldPattern:
		if c.Field == "" {
			return fmt.Errorf("field_pattern condition requires a field")
		}
		if c.Pattern == "" {
			return fmt.Errorf("field_pattern condition requires a pattern")
		}
	case "":
		return fmt.Errorf("condition type is required")
	default:
		return fmt.Errorf("unknown condition type: %s", c.Type)
	}
	return nil
}

// Evaluate evaluates the condition against the windowed events.
// An evaluator error (such as an invalid regex) is surfaced to the
// caller, which treats the owning pattern as a non-match.
func (c *Condition) Evaluate(events []*schema.Event) (Result, error) {
	switch c.Type {
	case ConditionEventCount:
		return c.evalEventCount(events), nil
	case ConditionEventSequence:
		return c.evalEventSequence(events), nil
	case ConditionUniqueFieldCount:
		return c.evalUniqueFieldCount(events), nil
	case ConditionSameFieldValue:
		return c.evalSameFieldValue(events), nil
	case ConditionFieldPattern:
		return c.evalFieldPattern(events)
	case ConditionFieldAggregate:
		return c.evalFieldAggregate(events), nil
	}
	return Result{Type: c.Type}, fmt.Errorf("unknown condition type: %s", c.Type)
}

// matchesFilter reports whether an event passes the condition's
// field/value filter. Conditions without a filter match everything.
func (c *Condition) matchesFilter(event *schema.Event) bool {
	if c.Field == "" {
		return true
	}
	got := fmt.Sprintf("%v", event.Field(c.Field))
	if len(c.Values) > 0 {
		for _, v := range c.Values {
			if got == v {
				return true
			}
		}
		return false
	}
	if c.Value == nil {
		return event.Field(c.Field) != nil
	}
	return got == fmt.Sprintf("%v", c.Value)
}

func (c *Condition) evalEventCount(events []*schema.Event) Result {
	count := 0
	for _, event := range events {
		if c.matchesFilter(event) {
			count++
		}
	}
	return Result{
		Type:       ConditionEventCount,
		Met:        float64(count) >= c.Threshold,
		Confidence: ratioConfidence(float64(count), c.Threshold),
	}
}

func (c *Condition) evalEventSequence(events []*schema.Event) Result {
	// Ordered subsequence scan: steps must appear in order, with other
	// events allowed in between.
	step := 0
	for _, event := range events {
		if step >= len(c.Sequence) {
			break
		}
		if event.EventType == c.Sequence[step] {
			step++
		}
	}
	return Result{
		Type:       ConditionEventSequence,
		Met:        step == len(c.Sequence),
		Confidence: float64(step) / float64(len(c.Sequence)),
	}
}

func (c *Condition) evalUniqueFieldCount(events []*schema.Event) Result {
	distinct := make(map[string]struct{})
	for _, event := range events {
		value := event.Field(c.Field)
		if value == nil || value == "" {
			continue
		}
		distinct[fmt.Sprintf("%v", value)] = struct{}{}
	}
	count := float64(len(distinct))
	return Result{
		Type:       ConditionUniqueFieldCount,
		Met:        count >= c.Threshold,
		Confidence: ratioConfidence(count, c.Threshold),
	}
}

func (c *Condition) evalSameFieldValue(events []*schema.Event) Result {
	counts := make(map[string]int)
	total := 0
	for _, event := range events {
		value := event.Field(c.Field)
		if value == nil || value == "" {
			continue
		}
		counts[fmt.Sprintf("%v", value)]++
		total++
	}
	if total == 0 {
		return Result{Type: ConditionSameFieldValue}
	}
	max := 0
	for _, count := range counts {
		if count > max {
			max = count
		}
	}
	return Result{
		Type:       ConditionSameFieldValue,
		Met:        len(counts) == 1,
		Confidence: float64(max) / float64(total),
	}
}

func (c *Condition) evalFieldPattern(events []*schema.Event) (Result, error) {
	re, err := regexp.Compile(c.Pattern)
	if err != nil {
		return Result{Type: ConditionFieldPattern}, fmt.Errorf("invalid pattern %q: %w", c.Pattern, err)
	}

	withField := 0
	matched := 0
	for _, event := range events {
		value := event.Field(c.Field)
		if value == nil || value == "" {
			continue
		}
		withField++
		if re.MatchString(fmt.Sprintf("%v", value)) {
			matched++
		}
	}
	if withField == 0 {
		return Result{Type: ConditionFieldPattern}, nil
	}

	rate := float64(matched) / float64(withField)
	minRate := c.MinMatchRate
	if minRate <= 0 {
		minRate = 0.5
	}
	return Result{
		Type:       ConditionFieldPattern,
		Met:        rate >= minRate,
		Confidence: rate,
	}, nil
}

func (c *Condition) evalFieldAggregate(events []*schema.Event) Result {
	var value float64
	count := 0
	switch c.Function {
	case "", "sum":
		for _, event := range events {
			if v, ok := toFloat64(event.Field(c.Field)); ok {
				value += v
			}
		}
	case "avg":
		var sum float64
		for _, event := range events {
			if v, ok := toFloat64(event.Field(c.Field)); ok {
				sum += v
				count++
			}
		}
		if count > 0 {
			value = sum / float64(count)
		}
	case "max":
		for _, event := range events {
			if v, ok := toFloat64(event.Field(c.Field)); ok && (count == 0 || v > value) {
				value = v
				count++
			}
		}
	case "min":
		for _, event := range events {
			if v, ok := toFloat64(event.Field(c.Field)); ok && (count == 0 || v < value) {
				value = v
				count++
			}
		}
	}
	return Result{
		Type:       ConditionFieldAggregate,
		Met:        value >= c.Threshold,
		Confidence: ratioConfidence(value, c.Threshold),
	}
}

// ratioConfidence maps observed/threshold into [0,1].
func ratioConfidence(observed, threshold float64) float64 {
	if threshold <= 0 {
		return 0
	}
	r := observed / threshold
	if r > 1 {
		return 1
	}
	if r < 0 {
		return 0
	}
	return r
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// Pattern is an immutable declarative rule describing a known attack
// shape, independent of any single user's baseline.
type Pattern struct {
	ID          string          `yaml:"id" json:"id"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Severity    schema.Severity `yaml:"severity" json:"severity"`
	Category    string          `yaml:"category,omitempty" json:"category,omitempty"`
	Enabled     bool            `yaml:"enabled" json:"enabled"`
	Window      time.Duration   `yaml:"window" json:"window"`
	Conditions  []Condition     `yaml:"conditions" json:"conditions"`
	// Confidence is the rule's declared ceiling for emitted matches.
	Confidence float64 `yaml:"confidence" json:"confidence"`
}

// Validate validates the pattern definition.
func (p *Pattern) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("pattern ID is required")
	}
	if p.Name == "" {
		return fmt.Errorf("pattern name is required")
	}
	if !p.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %q", p.Severity)
	}
	if p.Window <= 0 {
		return fmt.Errorf("pattern window must be positive")
	}
	if len(p.Conditions) == 0 {
		return fmt.Errorf("pattern requires at least one condition")
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		return fmt.Errorf("pattern confidence must be in (0,1]")
	}
	for i := range p.Conditions {
		if err := p.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	return nil
}

// ParsePattern parses a single pattern from YAML bytes.
func ParsePattern(data []byte) (*Pattern, error) {
	var p Pattern
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return &p, nil
}

// ParsePatterns parses one or more patterns from YAML bytes.
func ParsePatterns(data []byte) ([]*Pattern, error) {
	var patterns []*Pattern
	if err := yaml.Unmarshal(data, &patterns); err != nil {
		// Try single pattern format.
		p, singleErr := ParsePattern(data)
		if singleErr != nil {
			return nil, fmt.Errorf("failed to parse patterns: %w", err)
		}
		return []*Pattern{p}, nil
	}
	for i, p := range patterns {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
	}
	return patterns, nil
}
