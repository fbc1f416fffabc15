package pattern

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel-ueba/internal/queue"
	"sentinel-ueba/internal/schema"
)

// EventRef is a compact reference to an event that contributed to a match.
type EventRef struct {
	EventID   uuid.UUID `json:"event_id"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Match records one firing of a pattern.
type Match struct {
	ID               uuid.UUID       `json:"id"`
	PatternID        string          `json:"pattern_id"`
	PatternName      string          `json:"pattern_name"`
	Severity         schema.Severity `json:"severity"`
	Category         string          `json:"category,omitempty"`
	Confidence       float64         `json:"confidence"`
	Timestamp        time.Time       `json:"timestamp"`
	EventCount       int             `json:"event_count"`
	SampleEvents     []EventRef      `json:"sample_events,omitempty"`
	ConditionResults []Result        `json:"condition_results"`
}

// MatchHandler receives emitted matches. Handlers must not block for long;
// they run on the ingestion path.
type MatchHandler func(ctx context.Context, match *Match) error

// Archiver receives expired matches before they are pruned.
type Archiver interface {
	ArchiveMatches(ctx context.Context, matches []*Match) error
}

const maxSampleEvents = 10

// Config holds pattern engine settings.
type Config struct {
	// BufferSize is the capacity of the shared event ring.
	BufferSize int
	// ConfidenceThreshold is the minimum confidence for a match to be emitted.
	ConfidenceThreshold float64
	// MaxMatches caps retained matches per pattern.
	MaxMatches int
	// MatchRetention is how long matches are kept before the sweeper
	// prunes them.
	MatchRetention time.Duration
	// SweepInterval is how often the background sweeper runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the default pattern engine configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:          1000,
		ConfidenceThreshold: 0.7,
		MaxMatches:          1000,
		MatchRetention:      24 * time.Hour,
		SweepInterval:       5 * time.Minute,
	}
}

// Engine evaluates the pattern catalog against a shared sliding window
// of events. Evaluation is synchronous: every recorded event triggers a
// pass over all enabled patterns.
type Engine struct {
	config   Config
	ring     *queue.EventRing
	logger   *slog.Logger
	patterns map[string]*Pattern
	matches  map[string][]*Match
	mu       sync.RWMutex

	handlers []MatchHandler
	archiver Archiver
	hmu      sync.RWMutex

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewEngine creates a pattern engine with the builtin catalog registered.
func NewEngine(config Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.ConfidenceThreshold <= 0 {
		config.ConfidenceThreshold = 0.7
	}
	if config.MaxMatches <= 0 {
		config.MaxMatches = 1000
	}
	if config.MatchRetention <= 0 {
		config.MatchRetention = 24 * time.Hour
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Minute
	}

	e := &Engine{
		config:   config,
		ring:     queue.NewEventRing(config.BufferSize),
		logger:   logger.With("component", "pattern_engine"),
		patterns: make(map[string]*Pattern),
		matches:  make(map[string][]*Match),
		stopCh:   make(chan struct{}),
	}
	for _, p := range BuiltinPatterns() {
		e.patterns[p.ID] = p
	}
	return e
}

// AddPattern registers a pattern, replacing any existing pattern with
// the same ID.
func (e *Engine) AddPattern(p *Pattern) error {
	if err := p.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.patterns[p.ID] = p
	return nil
}

// RemovePattern unregisters a pattern and drops its retained matches.
func (e *Engine) RemovePattern(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.patterns[id]; !ok {
		return false
	}
	delete(e.patterns, id)
	delete(e.matches, id)
	return true
}

// Patterns returns the registered patterns sorted by ID.
func (e *Engine) Patterns() []*Pattern {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddHandler registers a match handler.
func (e *Engine) AddHandler(h MatchHandler) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.handlers = append(e.handlers, h)
}

// SetArchiver sets the destination for expired matches.
func (e *Engine) SetArchiver(a Archiver) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.archiver = a
}

// Process buffers the event and evaluates every enabled pattern against
// the window ending at the event's timestamp. Emitted matches are
// returned and dispatched to handlers.
func (e *Engine) Process(ctx context.Context, event *schema.Event) []*Match {
	e.ring.Append(event)

	e.mu.RLock()
	patterns := make([]*Pattern, 0, len(e.patterns))
	for _, p := range e.patterns {
		if p.Enabled {
			patterns = append(patterns, p)
		}
	}
	e.mu.RUnlock()

	var emitted []*Match
	for _, p := range patterns {
		match := e.evaluatePattern(p, event)
		if match == nil {
			continue
		}
		e.storeMatch(match)
		emitted = append(emitted, match)
	}

	for _, match := range emitted {
		e.dispatch(ctx, match)
	}
	return emitted
}

// evaluatePattern runs all of a pattern's conditions over its window.
// A panicking or erroring condition fails closed for this pattern only.
func (e *Engine) evaluatePattern(p *Pattern, event *schema.Event) (match *Match) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("pattern evaluation panicked",
				"pattern_id", p.ID,
				"panic", fmt.Sprintf("%v", r))
			match = nil
		}
	}()

	to := event.Timestamp
	window := e.ring.Window(to.Add(-p.Window), to)
	if len(window) == 0 {
		return nil
	}

	results := make([]Result, 0, len(p.Conditions))
	sum := 0.0
	for i := range p.Conditions {
		result, err := p.Conditions[i].Evaluate(window)
		if err != nil {
			e.logger.Warn("condition evaluation failed",
				"pattern_id", p.ID,
				"condition", i,
				"error", err)
			return nil
		}
		if !result.Met {
			return nil
		}
		results = append(results, result)
		sum += result.Confidence
	}

	confidence := sum / float64(len(results))
	if confidence > p.Confidence {
		confidence = p.Confidence
	}
	if confidence < e.config.ConfidenceThreshold {
		return nil
	}

	return &Match{
		ID:               uuid.New(),
		PatternID:        p.ID,
		PatternName:      p.Name,
		Severity:         p.Severity,
		Category:         p.Category,
		Confidence:       confidence,
		Timestamp:        time.Now().UTC(),
		EventCount:       len(window),
		SampleEvents:     sampleRefs(window),
		ConditionResults: results,
	}
}

func sampleRefs(events []*schema.Event) []EventRef {
	n := len(events)
	if n > maxSampleEvents {
		events = events[n-maxSampleEvents:]
	}
	refs := make([]EventRef, 0, len(events))
	for _, event := range events {
		refs = append(refs, EventRef{
			EventID:   event.EventID,
			UserID:    event.UserID,
			EventType: event.EventType,
			Timestamp: event.Timestamp,
		})
	}
	return refs
}

func (e *Engine) storeMatch(match *Match) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := append(e.matches[match.PatternID], match)
	if over := len(list) - e.config.MaxMatches; over > 0 {
		list = list[over:]
	}
	e.matches[match.PatternID] = list
}

func (e *Engine) dispatch(ctx context.Context, match *Match) {
	e.hmu.RLock()
	handlers := append([]MatchHandler(nil), e.handlers...)
	e.hmu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, match); err != nil {
			e.logger.Error("match handler failed",
				"pattern_id", match.PatternID,
				"error", err)
		}
	}
}

// Matches returns retained matches for a pattern, oldest-first.
func (e *Engine) Matches(patternID string) []*Match {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Match(nil), e.matches[patternID]...)
}

// AllMatches returns all retained matches across patterns.
func (e *Engine) AllMatches() []*Match {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*Match
	for _, list := range e.matches {
		out = append(out, list...)
	}
	return out
}

// Start launches the background match sweeper.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.sweepLoop(ctx)
	e.logger.Info("pattern engine started",
		"patterns", len(e.patterns),
		"buffer_size", e.config.BufferSize)
}

// Close stops the background sweeper. Safe to call more than once.
func (e *Engine) Close() {
	e.stopped.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}

func (e *Engine) sweepLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep prunes matches older than the retention window, handing them to
// the archiver first when one is configured.
func (e *Engine) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-e.config.MatchRetention)

	e.mu.Lock()
	var expired []*Match
	for id, list := range e.matches {
		kept := list[:0]
		for _, match := range list {
			if match.Timestamp.Before(cutoff) {
				expired = append(expired, match)
			} else {
				kept = append(kept, match)
			}
		}
		if len(kept) == 0 {
			delete(e.matches, id)
		} else {
			e.matches[id] = kept
		}
	}
	e.mu.Unlock()

	if len(expired) == 0 {
		return
	}

	e.hmu.RLock()
	archiver := e.archiver
	e.hmu.RUnlock()
	if archiver != nil {
		if err := archiver.ArchiveMatches(ctx, expired); err != nil {
			e.logger.Error("failed to archive expired matches",
				"count", len(expired),
				"error", err)
		}
	}
	e.logger.Info("swept expired matches", "count", len(expired))
}

// Stats returns engine statistics.
func (e *Engine) Stats() map[string]any {
	e.mu.RLock()
	total := 0
	for _, list := range e.matches {
		total += len(list)
	}
	patterns := len(e.patterns)
	e.mu.RUnlock()

	metrics := e.ring.Metrics()
	return map[string]any{
		"patterns":        patterns,
		"matches":         total,
		"buffered_events": metrics.Depth,
		"total_appended":  metrics.Appended,
		"total_evicted":   metrics.Evicted,
	}
}
