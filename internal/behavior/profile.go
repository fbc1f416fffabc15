// Package behavior maintains per-user behavior profiles, derives statistical
// baselines from them, and scores recent activity for anomalies.
package behavior

import (
	"sync"
	"time"

	"sentinel-ueba/internal/schema"
)

// Profile accumulates recent events and session rollups for one user.
// A profile is created lazily on the user's first event and lives for the
// process lifetime. All access goes through the profile's own lock.
type Profile struct {
	UserID       string
	Events       []*schema.Event
	Sessions     map[string]*SessionAggregate
	Baselines    Baselines
	Anomalies    []*Anomaly
	LastAnalyzed time.Time

	mu sync.Mutex
}

// SessionAggregate accumulates per-session rollups. Sessions are never
// evicted individually; the map grows with distinct session IDs.
type SessionAggregate struct {
	SessionID   string         `json:"session_id"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	EventCount  int            `json:"event_count"`
	EventTypes  map[string]int `json:"event_types"`
	IPAddresses map[string]int `json:"ip_addresses"`
	UserAgents  map[string]int `json:"user_agents"`
	Locations   map[string]int `json:"locations"`
}

func newProfile(userID string) *Profile {
	return &Profile{
		UserID:   userID,
		Sessions: make(map[string]*SessionAggregate),
	}
}

// append adds an event to the profile window, evicting the oldest entry
// when the window is full, and folds the event into its session aggregate.
// Caller must hold p.mu.
func (p *Profile) append(event *schema.Event, windowSize int) {
	p.Events = append(p.Events, event)
	if windowSize > 0 && len(p.Events) > windowSize {
		// FIFO eviction; shift keeps arrival order intact.
		excess := len(p.Events) - windowSize
		p.Events = append(p.Events[:0], p.Events[excess:]...)
	}

	if event.SessionID == "" {
		return
	}

	session, ok := p.Sessions[event.SessionID]
	if !ok {
		session = &SessionAggregate{
			SessionID:   event.SessionID,
			StartTime:   event.Timestamp,
			EventTypes:  make(map[string]int),
			IPAddresses: make(map[string]int),
			UserAgents:  make(map[string]int),
			Locations:   make(map[string]int),
		}
		p.Sessions[event.SessionID] = session
	}

	session.EventCount++
	session.EventTypes[event.EventType]++
	if event.Timestamp.Before(session.StartTime) {
		session.StartTime = event.Timestamp
	}
	if event.Timestamp.After(session.EndTime) {
		session.EndTime = event.Timestamp
	}
	if event.IPAddress != "" {
		session.IPAddresses[event.IPAddress]++
	}
	if event.UserAgent != "" {
		session.UserAgents[event.UserAgent]++
	}
	if loc, ok := event.Location(); ok {
		session.Locations[loc]++
	}
}

// addAnomaly appends an anomaly to the profile's record list, evicting the
// oldest entries beyond the retention cap. Caller must hold p.mu.
func (p *Profile) addAnomaly(anomaly *Anomaly, cap int) {
	p.Anomalies = append(p.Anomalies, anomaly)
	if cap > 0 && len(p.Anomalies) > cap {
		excess := len(p.Anomalies) - cap
		p.Anomalies = append(p.Anomalies[:0], p.Anomalies[excess:]...)
	}
}

// Snapshot is the serializable form of a profile used by the persistence
// hooks. Engine state is rebuilt from snapshots at startup.
type Snapshot struct {
	UserID       string                       `json:"user_id"`
	Events       []*schema.Event              `json:"events"`
	Sessions     map[string]*SessionAggregate `json:"sessions"`
	Baselines    Baselines                    `json:"baselines"`
	Anomalies    []*Anomaly                   `json:"anomalies,omitempty"`
	LastAnalyzed time.Time                    `json:"last_analyzed"`
}

// snapshot copies the profile into its serializable form.
func (p *Profile) snapshot() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Snapshot{
		UserID:       p.UserID,
		Events:       append([]*schema.Event(nil), p.Events...),
		Sessions:     make(map[string]*SessionAggregate, len(p.Sessions)),
		Baselines:    p.Baselines,
		Anomalies:    append([]*Anomaly(nil), p.Anomalies...),
		LastAnalyzed: p.LastAnalyzed,
	}
	for id, sess := range p.Sessions {
		copied := *sess
		s.Sessions[id] = &copied
	}
	return s
}

// restore rebuilds a profile from its serialized form.
func restoreProfile(s *Snapshot) *Profile {
	p := newProfile(s.UserID)
	p.Events = append(p.Events, s.Events...)
	p.Baselines = s.Baselines
	p.Anomalies = append(p.Anomalies, s.Anomalies...)
	p.LastAnalyzed = s.LastAnalyzed
	for id, sess := range s.Sessions {
		copied := *sess
		p.Sessions[id] = &copied
	}
	return p
}
