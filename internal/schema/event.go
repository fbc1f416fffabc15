// Package schema defines the canonical security event record for sentinel-ueba.
// All ingested events are normalized to this structure before analysis.
package schema

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event represents a single security event attributed to a user.
// Events are immutable once recorded.
type Event struct {
	// Required fields
	EventID   uuid.UUID `json:"event_id"`
	UserID    string    `json:"user_id" validate:"required,max=256"`
	EventType string    `json:"event_type" validate:"required,event_type_format"`
	Timestamp time.Time `json:"timestamp"`

	// Optional fields
	SessionID string         `json:"session_id,omitempty" validate:"max=256"`
	IPAddress string         `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string         `json:"user_agent,omitempty" validate:"max=1024"`
	Metadata  map[string]any `json:"metadata,omitempty"`

	// Internal fields (set by system)
	ReceivedAt time.Time `json:"received_at"`
}

// Well-known event types used by the baseline estimator and detectors.
const (
	EventLogin          = "login"
	EventLoginSuccess   = "login_success"
	EventLoginFailed    = "login_failed"
	EventAPIAccess      = "api_access"
	EventResourceAccess = "resource_access"
)

// Well-known metadata keys.
const (
	MetaLocation = "location"
	MetaResource = "resource"
	MetaSize     = "size"
)

// IsLogin reports whether the event is a successful login.
func (e *Event) IsLogin() bool {
	return e.EventType == EventLogin || e.EventType == EventLoginSuccess
}

// IsAccess reports whether the event is an API or resource access.
func (e *Event) IsAccess() bool {
	return e.EventType == EventAPIAccess || e.EventType == EventResourceAccess
}

// Location returns the location tag from metadata, if present.
func (e *Event) Location() (string, bool) {
	if e.Metadata == nil {
		return "", false
	}
	loc, ok := e.Metadata[MetaLocation].(string)
	if !ok || loc == "" {
		return "", false
	}
	return loc, true
}

// Field resolves a field reference against the event.
// Top-level fields are addressed by name ("user_id", "event_type", ...);
// metadata values are addressed as "metadata.<key>". Lookup depth is
// restricted to one metadata level. A missing field resolves to nil.
func (e *Event) Field(name string) any {
	switch name {
	case "user_id":
		return e.UserID
	case "event_type":
		return e.EventType
	case "session_id":
		return e.SessionID
	case "ip_address":
		return e.IPAddress
	case "user_agent":
		return e.UserAgent
	case "event_id":
		return e.EventID.String()
	case "timestamp":
		return e.Timestamp
	}

	if key, ok := strings.CutPrefix(name, "metadata."); ok {
		if e.Metadata == nil {
			return nil
		}
		if v, ok := e.Metadata[key]; ok {
			return v
		}
		return nil
	}

	// Bare names fall through to metadata for convenience.
	if e.Metadata != nil {
		if v, ok := e.Metadata[name]; ok {
			return v
		}
	}
	return nil
}

// Severity classifies anomalies and pattern matches.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank returns a numeric weight for severity comparison.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 4
	case SeverityHigh:
		return 7
	case SeverityCritical:
		return 10
	default:
		return 0
	}
}
