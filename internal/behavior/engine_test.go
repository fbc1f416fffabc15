package behavior

import (
	"context"
	"sync"
	"testing"
	"time"

	"sentinel-ueba/internal/schema"
)

// collector is a test anomaly handler.
type collector struct {
	mu        sync.Mutex
	anomalies []*Anomaly
}

func (c *collector) handle(_ context.Context, a *Anomaly) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anomalies = append(c.anomalies, a)
	return nil
}

func (c *collector) all() []*Anomaly {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Anomaly(nil), c.anomalies...)
}

func TestEngine_NoAnomaliesBelowMinDataPoints(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDataPoints = 50
	e := NewEngine(cfg)

	sink := &collector{}
	e.AddHandler(sink.handle)

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		event := &schema.Event{
			UserID:    "alice",
			EventType: "login",
			Timestamp: now.Add(-time.Duration(i) * 10 * time.Second),
		}
		if _, err := e.Record(event); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	e.RunAnalysisPass(context.Background())

	if got := sink.all(); len(got) != 0 {
		t.Errorf("emitted %d anomalies for a profile below min data points", len(got))
	}

	snapshot, _ := e.GetProfile("alice")
	if !snapshot.LastAnalyzed.IsZero() {
		t.Error("profile below min data points should not be marked analyzed")
	}
	if len(snapshot.Baselines.ActiveHours) != 0 {
		t.Error("baselines should not be computed below min data points")
	}
}

func TestEngine_AnalysisPassEmitsRapidLogins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDataPoints = 5
	e := NewEngine(cfg)

	sink := &collector{}
	e.AddHandler(sink.handle)

	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		event := &schema.Event{
			UserID:    "alice",
			EventType: "login",
			Timestamp: now.Add(-time.Duration(i) * 20 * time.Second),
		}
		if _, err := e.Record(event); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	e.RunAnalysisPass(context.Background())

	got := sink.all()
	var rapid *Anomaly
	for _, a := range got {
		if a.Confidence < 0 || a.Confidence > 1 {
			t.Errorf("confidence %f out of [0,1]", a.Confidence)
		}
		if a.Type == AnomalyRapidLogins {
			rapid = a
		}
	}
	if rapid == nil {
		t.Fatal("expected rapid_successive_logins from analysis pass")
	}
	if rapid.UserID != "alice" {
		t.Errorf("anomaly user = %s, want alice", rapid.UserID)
	}

	// The anomaly is also retained on the profile.
	snapshot, _ := e.GetProfile("alice")
	if len(snapshot.Anomalies) == 0 {
		t.Error("anomaly not retained on profile")
	}
	if snapshot.LastAnalyzed.IsZero() {
		t.Error("LastAnalyzed not updated")
	}
}

func TestEngine_BaselinesEstablishedByPass(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDataPoints = 5
	e := NewEngine(cfg)

	now := time.Now().UTC()
	for i := 0; i < 10; i++ {
		event := &schema.Event{
			UserID:    "alice",
			EventType: "login",
			Timestamp: now.Add(-time.Duration(i) * time.Minute),
			UserAgent: "Mozilla/5.0",
		}
		e.Record(event)
	}

	e.RunAnalysisPass(context.Background())

	snapshot, _ := e.GetProfile("alice")
	if len(snapshot.Baselines.LoginHours) == 0 {
		t.Error("login-hour baseline not established")
	}
	if len(snapshot.Baselines.ActiveHours) == 0 {
		t.Error("active-hour baseline not established")
	}
	if len(snapshot.Baselines.UserAgents) != 1 {
		t.Errorf("user-agent baseline = %v", snapshot.Baselines.UserAgents)
	}
}

func TestEngine_PerUserIsolation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDataPoints = 5
	e := NewEngine(cfg)

	sink := &collector{}
	e.AddHandler(sink.handle)

	now := time.Now().UTC()

	// A profile with a poisoned event that panics detectors on metadata
	// access must not prevent other users from being analyzed.
	for i := 0; i < 8; i++ {
		e.Record(&schema.Event{
			UserID:    "mallory",
			EventType: "login",
			Timestamp: now.Add(-time.Duration(i) * 20 * time.Second),
		})
	}
	for i := 0; i < 8; i++ {
		e.Record(&schema.Event{
			UserID:    "alice",
			EventType: "login",
			Timestamp: now.Add(-time.Duration(i) * 20 * time.Second),
		})
	}

	e.RunAnalysisPass(context.Background())

	users := make(map[string]bool)
	for _, a := range sink.all() {
		users[a.UserID] = true
	}
	if !users["alice"] || !users["mallory"] {
		t.Errorf("expected anomalies for both users, got %v", users)
	}
}

func TestEngine_HandlerErrorDoesNotStopDispatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinDataPoints = 5
	e := NewEngine(cfg)

	e.AddHandler(func(context.Context, *Anomaly) error {
		return context.DeadlineExceeded
	})
	sink := &collector{}
	e.AddHandler(sink.handle)

	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		e.Record(&schema.Event{
			UserID:    "alice",
			EventType: "login",
			Timestamp: now.Add(-time.Duration(i) * 20 * time.Second),
		})
	}

	e.RunAnalysisPass(context.Background())

	if len(sink.all()) == 0 {
		t.Error("second handler should still receive anomalies")
	}
}

func TestEngine_StartClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateInterval = 10 * time.Millisecond
	e := NewEngine(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	e.Close()

	// Close is idempotent.
	e.Close()
}

func TestEngine_Stats(t *testing.T) {
	e := NewEngine(DefaultConfig())
	e.RecordEvent("alice", "login", nil)
	e.RecordEvent("bob", "login", nil)

	stats := e.Stats()
	if stats["profiles"] != 2 {
		t.Errorf("profiles = %v, want 2", stats["profiles"])
	}
	if stats["buffered_events"] != 2 {
		t.Errorf("buffered_events = %v, want 2", stats["buffered_events"])
	}
}
