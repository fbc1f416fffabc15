package behavior

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel-ueba/internal/schema"
)

// Config configures the behavior engine. Values are fixed for the
// engine's lifetime.
type Config struct {
	// WindowSize bounds each profile's event window.
	WindowSize int `yaml:"window_size"`
	// Threshold is the standard-deviation multiple for anomaly flags.
	Threshold float64 `yaml:"threshold"`
	// UpdateInterval is how often the scheduled analysis pass runs.
	UpdateInterval time.Duration `yaml:"update_interval"`
	// MinDataPoints is the minimum window length before a profile is analyzed.
	MinDataPoints int `yaml:"min_data_points"`
	// MaxAnomalies caps the per-user anomaly record list.
	MaxAnomalies int `yaml:"max_anomalies"`
}

// DefaultConfig returns the default behavior engine configuration.
func DefaultConfig() Config {
	return Config{
		WindowSize:     1000,
		Threshold:      2.5,
		UpdateInterval: 60 * time.Second,
		MinDataPoints:  50,
		MaxAnomalies:   100,
	}
}

// Engine owns the per-user profile store and runs the scheduled
// baseline/anomaly analysis pass. Ingestion via Record is synchronous and
// touches only the originating user's profile; the analysis pass runs on
// its own ticker and never blocks ingestion.
type Engine struct {
	config   Config
	profiles map[string]*Profile
	mu       sync.RWMutex

	handlers []AnomalyHandler
	hmu      sync.RWMutex

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup

	lastPass time.Time
	passMu   sync.Mutex
}

// NewEngine creates a new behavior engine.
func NewEngine(config Config) *Engine {
	if config.WindowSize <= 0 {
		config.WindowSize = 1000
	}
	if config.Threshold <= 0 {
		config.Threshold = 2.5
	}
	if config.UpdateInterval <= 0 {
		config.UpdateInterval = 60 * time.Second
	}
	if config.MinDataPoints <= 0 {
		config.MinDataPoints = 50
	}
	if config.MaxAnomalies <= 0 {
		config.MaxAnomalies = 100
	}
	return &Engine{
		config:   config,
		profiles: make(map[string]*Profile),
		stopCh:   make(chan struct{}),
	}
}

// AddHandler subscribes a handler to emitted anomalies.
func (e *Engine) AddHandler(handler AnomalyHandler) {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// Record appends an event to the originating user's profile, creating the
// profile on first sight. Returns the stored record. The only failure mode
// is malformed input.
func (e *Engine) Record(event *schema.Event) (*schema.Event, error) {
	if event == nil {
		return nil, schema.NewValidationError("event", "is required")
	}
	if event.UserID == "" {
		return nil, schema.NewValidationError("user_id", "is required")
	}
	if event.EventType == "" {
		return nil, schema.NewValidationError("event_type", "is required")
	}

	if event.EventID == uuid.Nil {
		event.EventID = uuid.New()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.ReceivedAt = time.Now().UTC()

	profile := e.getOrCreateProfile(event.UserID)
	profile.mu.Lock()
	profile.append(event, e.config.WindowSize)
	profile.mu.Unlock()

	return event, nil
}

// RecordEvent is the convenience form of Record for callers holding loose
// attributes. Session, address, and device fields are lifted out of the
// metadata map when present.
func (e *Engine) RecordEvent(userID, eventType string, metadata map[string]any) (*schema.Event, error) {
	event := &schema.Event{
		UserID:    userID,
		EventType: eventType,
	}
	if metadata != nil {
		meta := make(map[string]any, len(metadata))
		for k, v := range metadata {
			meta[k] = v
		}
		if v, ok := meta["session_id"].(string); ok {
			event.SessionID = v
			delete(meta, "session_id")
		}
		if v, ok := meta["ip_address"].(string); ok {
			event.IPAddress = v
			delete(meta, "ip_address")
		}
		if v, ok := meta["user_agent"].(string); ok {
			event.UserAgent = v
			delete(meta, "user_agent")
		}
		if len(meta) > 0 {
			event.Metadata = meta
		}
	}
	return e.Record(event)
}

// GetProfile returns a point-in-time copy of the user's profile, or false
// if the user has never been seen.
func (e *Engine) GetProfile(userID string) (*Snapshot, bool) {
	e.mu.RLock()
	profile, ok := e.profiles[userID]
	e.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return profile.snapshot(), true
}

func (e *Engine) getOrCreateProfile(userID string) *Profile {
	e.mu.RLock()
	profile, ok := e.profiles[userID]
	e.mu.RUnlock()
	if ok {
		return profile
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if profile, ok = e.profiles[userID]; ok {
		return profile
	}
	profile = newProfile(userID)
	e.profiles[userID] = profile
	return profile
}

// Start launches the scheduled analysis pass.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.analysisLoop(ctx)
	slog.Info("behavior engine started",
		"window_size", e.config.WindowSize,
		"update_interval", e.config.UpdateInterval,
		"min_data_points", e.config.MinDataPoints,
	)
}

// Close halts future scheduled passes. An in-flight pass completes.
func (e *Engine) Close() {
	e.stopped.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
	slog.Info("behavior engine stopped")
}

func (e *Engine) analysisLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.RunAnalysisPass(ctx)
		}
	}
}

// RunAnalysisPass analyzes every profile once: detectors against the
// previous baseline, then baseline recomputation. A failure on one user's
// profile is logged and skipped; all other users still run.
func (e *Engine) RunAnalysisPass(ctx context.Context) {
	now := time.Now().UTC()

	e.mu.RLock()
	profiles := make([]*Profile, 0, len(e.profiles))
	for _, profile := range e.profiles {
		profiles = append(profiles, profile)
	}
	e.mu.RUnlock()

	analyzed := 0
	for _, profile := range profiles {
		if err := e.analyzeProfile(ctx, profile, now); err != nil {
			slog.Error("profile analysis failed, skipping user",
				"user_id", profile.UserID,
				"error", err,
			)
			continue
		}
		analyzed++
	}

	e.passMu.Lock()
	e.lastPass = now
	e.passMu.Unlock()

	slog.Debug("analysis pass complete", "profiles", len(profiles), "analyzed", analyzed)
}

func (e *Engine) analyzeProfile(ctx context.Context, profile *Profile, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during analysis: %v", r)
		}
	}()

	profile.mu.Lock()
	if len(profile.Events) < e.config.MinDataPoints {
		profile.mu.Unlock()
		return nil
	}

	events := append([]*schema.Event(nil), profile.Events...)
	baselines := profile.Baselines
	profile.mu.Unlock()

	var found []*Anomaly
	for _, d := range detectors() {
		anomalies := e.runDetector(d.name, d.fn, profile.UserID, events, baselines, now)
		found = append(found, anomalies...)
	}

	// Baselines update after detection so the pass compares against what
	// was previously learned, not against itself.
	next := recomputeBaselines(baselines, events, now)

	profile.mu.Lock()
	profile.Baselines = next
	profile.LastAnalyzed = now
	for _, anomaly := range found {
		profile.addAnomaly(anomaly, e.config.MaxAnomalies)
	}
	profile.mu.Unlock()

	for _, anomaly := range found {
		e.dispatch(ctx, anomaly)
	}
	return nil
}

// runDetector isolates a single detector: a panic inside one detector is
// logged and must not prevent the others from running.
func (e *Engine) runDetector(name string, fn detector, userID string, events []*schema.Event, base Baselines, now time.Time) (anomalies []*Anomaly) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("detector panicked",
				"detector", name,
				"user_id", userID,
				"panic", r,
			)
			anomalies = nil
		}
	}()
	return fn(userID, events, base, e.config.Threshold, now)
}

func (e *Engine) dispatch(ctx context.Context, anomaly *Anomaly) {
	e.hmu.RLock()
	handlers := e.handlers
	e.hmu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, anomaly); err != nil {
			slog.Error("anomaly handler failed",
				"error", err,
				"anomaly_type", anomaly.Type,
				"user_id", anomaly.UserID,
			)
		}
	}
}

// Export returns serializable snapshots of all profiles, for the
// persistence hooks.
func (e *Engine) Export() []*Snapshot {
	e.mu.RLock()
	profiles := make([]*Profile, 0, len(e.profiles))
	for _, profile := range e.profiles {
		profiles = append(profiles, profile)
	}
	e.mu.RUnlock()

	snapshots := make([]*Snapshot, 0, len(profiles))
	for _, profile := range profiles {
		snapshots = append(snapshots, profile.snapshot())
	}
	return snapshots
}

// Import rebuilds profiles from snapshots. Existing profiles with the
// same user ID are replaced. Missing persistence never prevents
// operation; an empty import is a no-op.
func (e *Engine) Import(snapshots []*Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, snapshot := range snapshots {
		if snapshot == nil || snapshot.UserID == "" {
			continue
		}
		e.profiles[snapshot.UserID] = restoreProfile(snapshot)
	}
}

// Stats returns engine statistics.
func (e *Engine) Stats() map[string]any {
	e.mu.RLock()
	profileCount := len(e.profiles)
	totalEvents := 0
	totalAnomalies := 0
	for _, profile := range e.profiles {
		profile.mu.Lock()
		totalEvents += len(profile.Events)
		totalAnomalies += len(profile.Anomalies)
		profile.mu.Unlock()
	}
	e.mu.RUnlock()

	e.passMu.Lock()
	lastPass := e.lastPass
	e.passMu.Unlock()

	return map[string]any{
		"profiles":        profileCount,
		"buffered_events": totalEvents,
		"anomalies":       totalAnomalies,
		"last_pass":       lastPass,
	}
}
