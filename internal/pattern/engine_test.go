package pattern

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sentinel-ueba/internal/schema"
)

type matchCollector struct {
	mu      sync.Mutex
	matches []*Match
}

func (c *matchCollector) handle(_ context.Context, m *Match) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matches = append(c.matches, m)
	return nil
}

func (c *matchCollector) all() []*Match {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Match(nil), c.matches...)
}

func newTestEngine() *Engine {
	return NewEngine(DefaultConfig(), nil)
}

func TestEngine_BruteForceEndToEnd(t *testing.T) {
	e := newTestEngine()
	sink := &matchCollector{}
	e.AddHandler(sink.handle)

	ctx := context.Background()
	base := time.Now().UTC()

	// Six failed logins inside five minutes, then a success.
	for i := 0; i < 6; i++ {
		emitted := e.Process(ctx, testEvent(schema.EventLoginFailed, "alice", "198.51.100.1",
			base.Add(time.Duration(i)*30*time.Second)))
		for _, m := range emitted {
			if m.PatternID == "brute_force_login" {
				t.Fatal("brute force fired before the success event")
			}
		}
	}
	emitted := e.Process(ctx, testEvent(schema.EventLoginSuccess, "alice", "198.51.100.1",
		base.Add(3*time.Minute)))

	var match *Match
	for _, m := range emitted {
		if m.PatternID == "brute_force_login" {
			match = m
		}
	}
	if match == nil {
		t.Fatal("expected brute_force_login to fire on the success event")
	}
	if match.Confidence < 0.7 {
		t.Errorf("confidence = %f, want >= 0.7", match.Confidence)
	}
	// Both conditions saturate, so the pattern's declared ceiling applies.
	if match.Confidence != 0.85 {
		t.Errorf("confidence = %f, want ceiling 0.85", match.Confidence)
	}
	if match.Severity != schema.SeverityHigh {
		t.Errorf("severity = %s, want high", match.Severity)
	}
	if match.EventCount != 7 {
		t.Errorf("event count = %d, want 7", match.EventCount)
	}
	if len(match.SampleEvents) != 7 {
		t.Errorf("sample events = %d, want 7", len(match.SampleEvents))
	}
	for _, result := range match.ConditionResults {
		if !result.Met {
			t.Errorf("condition %s not met in emitted match", result.Type)
		}
	}

	// The handler saw the same matches and the store retained them.
	if len(sink.all()) == 0 {
		t.Error("handler did not receive the match")
	}
	if got := e.Matches("brute_force_login"); len(got) != 1 {
		t.Errorf("retained matches = %d, want 1", len(got))
	}
}

func TestEngine_AllConditionsRequired(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	base := time.Now().UTC()

	// Only four failures before the success: the count condition stays
	// one short, so the pattern must not fire.
	for i := 0; i < 4; i++ {
		e.Process(ctx, testEvent(schema.EventLoginFailed, "alice", "",
			base.Add(time.Duration(i)*10*time.Second)))
	}
	emitted := e.Process(ctx, testEvent(schema.EventLoginSuccess, "alice", "", base.Add(time.Minute)))

	for _, m := range emitted {
		if m.PatternID == "brute_force_login" {
			t.Error("pattern fired with an unmet condition")
		}
	}
}

func TestEngine_WindowExcludesOldEvents(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	base := time.Now().UTC()

	// Failures spread over 30 minutes: never five inside any 5m window.
	for i := 0; i < 6; i++ {
		e.Process(ctx, testEvent(schema.EventLoginFailed, "alice", "",
			base.Add(time.Duration(i)*6*time.Minute)))
	}
	emitted := e.Process(ctx, testEvent(schema.EventLoginSuccess, "alice", "", base.Add(31*time.Minute)))

	for _, m := range emitted {
		if m.PatternID == "brute_force_login" {
			t.Error("events outside the window must not count")
		}
	}
}

func TestEngine_CredentialStuffing(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()
	base := time.Now().UTC()

	var got *Match
	for i, ip := range []string{"198.51.100.1", "198.51.100.2", "198.51.100.3"} {
		emitted := e.Process(ctx, testEvent(schema.EventLoginFailed, "victim", ip,
			base.Add(time.Duration(i)*time.Minute)))
		for _, m := range emitted {
			if m.PatternID == "credential_stuffing" {
				got = m
			}
		}
	}

	if got == nil {
		t.Fatal("expected credential_stuffing with 3 failures from 3 IPs on one account")
	}
	if got.Confidence < 0.7 {
		t.Errorf("confidence = %f, want >= 0.7", got.Confidence)
	}
}

func TestEngine_ConfidenceThresholdSuppressesMatch(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	if err := e.AddPattern(&Pattern{
		ID:         "weak_signal",
		Name:       "Weak Signal",
		Severity:   schema.SeverityLow,
		Enabled:    true,
		Window:     time.Minute,
		Confidence: 0.5, // below the 0.7 emission threshold
		Conditions: []Condition{
			{Type: ConditionEventCount, Field: "event_type", Value: "ping", Threshold: 1},
		},
	}); err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}

	emitted := e.Process(ctx, testEvent("ping", "alice", "", time.Now().UTC()))
	for _, m := range emitted {
		if m.PatternID == "weak_signal" {
			t.Error("match below the confidence threshold must not be emitted")
		}
	}
}

func TestEngine_InvalidRegexFailsClosed(t *testing.T) {
	e := newTestEngine()
	ctx := context.Background()

	// A pattern with an uncompilable regex must never match, and must
	// not affect other patterns.
	e.mu.Lock()
	e.patterns["broken"] = &Pattern{
		ID:         "broken",
		Name:       "Broken",
		Severity:   schema.SeverityLow,
		Enabled:    true,
		Window:     time.Minute,
		Confidence: 1.0,
		Conditions: []Condition{
			{Type: ConditionFieldPattern, Field: "ip_address", Pattern: `[`},
		},
	}
	e.mu.Unlock()

	base := time.Now().UTC()
	for i := 0; i < 6; i++ {
		e.Process(ctx, testEvent(schema.EventLoginFailed, "alice", "10.0.0.1",
			base.Add(time.Duration(i)*time.Second)))
	}
	emitted := e.Process(ctx, testEvent(schema.EventLoginSuccess, "alice", "10.0.0.1", base.Add(time.Minute)))

	var bruteForce bool
	for _, m := range emitted {
		if m.PatternID == "broken" {
			t.Error("broken pattern must not match")
		}
		if m.PatternID == "brute_force_login" {
			bruteForce = true
		}
	}
	if !bruteForce {
		t.Error("healthy patterns must still evaluate alongside a broken one")
	}
}

func TestEngine_AddRemovePattern(t *testing.T) {
	e := newTestEngine()
	before := len(e.Patterns())

	if err := e.AddPattern(&Pattern{ID: "bad"}); err == nil {
		t.Error("invalid pattern should be rejected")
	}
	if len(e.Patterns()) != before {
		t.Error("rejected pattern must not be registered")
	}

	p := &Pattern{
		ID:         "custom",
		Name:       "Custom",
		Severity:   schema.SeverityLow,
		Enabled:    true,
		Window:     time.Minute,
		Confidence: 0.9,
		Conditions: []Condition{{Type: ConditionEventCount, Threshold: 1}},
	}
	if err := e.AddPattern(p); err != nil {
		t.Fatalf("AddPattern failed: %v", err)
	}
	if len(e.Patterns()) != before+1 {
		t.Error("pattern not registered")
	}
	if !e.RemovePattern("custom") {
		t.Error("RemovePattern should report success")
	}
	if e.RemovePattern("custom") {
		t.Error("removing a missing pattern should report false")
	}
}

func TestEngine_MatchCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMatches = 5
	e := NewEngine(cfg, nil)

	for i := 0; i < 12; i++ {
		e.storeMatch(&Match{PatternID: "api_abuse", Timestamp: time.Now()})
	}
	if got := len(e.Matches("api_abuse")); got != 5 {
		t.Errorf("retained matches = %d, want cap 5", got)
	}
}

type fakeArchiver struct {
	mu       sync.Mutex
	archived []*Match
}

func (a *fakeArchiver) ArchiveMatches(_ context.Context, matches []*Match) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, matches...)
	return nil
}

func TestEngine_SweepArchivesExpiredMatches(t *testing.T) {
	e := newTestEngine()
	arch := &fakeArchiver{}
	e.SetArchiver(arch)

	old := &Match{PatternID: "api_abuse", Timestamp: time.Now().Add(-25 * time.Hour)}
	fresh := &Match{PatternID: "api_abuse", Timestamp: time.Now()}
	e.storeMatch(old)
	e.storeMatch(fresh)

	e.Sweep(context.Background())

	if got := e.Matches("api_abuse"); len(got) != 1 || !got[0].Timestamp.Equal(fresh.Timestamp) {
		t.Errorf("sweep retained %d matches, want only the fresh one", len(got))
	}
	arch.mu.Lock()
	defer arch.mu.Unlock()
	if len(arch.archived) != 1 {
		t.Errorf("archived %d matches, want 1", len(arch.archived))
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	good := `
- id: night_admin_access
  name: Night Admin Access
  severity: medium
  enabled: true
  window: 30m
  confidence: 0.75
  conditions:
    - type: event_count
      field: event_type
      value: admin_access
      threshold: 3
`
	if err := os.WriteFile(filepath.Join(dir, "custom.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	// A broken file is skipped, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte(`{{nope`), 0o644); err != nil {
		t.Fatal(err)
	}
	// Non-YAML files are ignored.
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte(`docs`), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine()
	before := len(e.Patterns())
	loaded, err := LoadDir(e, dir, nil)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if loaded != 1 {
		t.Errorf("loaded = %d, want 1", loaded)
	}
	if len(e.Patterns()) != before+1 {
		t.Error("custom pattern not registered")
	}
}

func TestEngine_StartClose(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SweepInterval = 10 * time.Millisecond
	e := NewEngine(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	e.Close()
	e.Close()
}

func TestEngine_DefaultBufferSize(t *testing.T) {
	if got := DefaultConfig().BufferSize; got != 1000 {
		t.Errorf("DefaultConfig BufferSize = %d, want 1000", got)
	}

	e := NewEngine(Config{}, nil)
	defer e.Close()
	if got := e.ring.Cap(); got != 1000 {
		t.Errorf("zero-config ring capacity = %d, want 1000", got)
	}
}

func TestEngine_Stats(t *testing.T) {
	e := newTestEngine()
	e.Process(context.Background(), testEvent("api_access", "alice", "", time.Now().UTC()))

	stats := e.Stats()
	if stats["buffered_events"] != 1 {
		t.Errorf("buffered_events = %v, want 1", stats["buffered_events"])
	}
	if stats["patterns"].(int) < 4 {
		t.Errorf("patterns = %v, want at least the builtins", stats["patterns"])
	}
}
