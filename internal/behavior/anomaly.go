package behavior

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sentinel-ueba/internal/schema"
)

// Anomaly types emitted by the detector set.
const (
	AnomalyUnusualLoginTime      = "unusual_login_time"
	AnomalyRapidLogins           = "rapid_successive_logins"
	AnomalyUnusualFrequency      = "unusual_access_frequency"
	AnomalyUnusualResourceAccess = "unusual_resource_access"
	AnomalyUnusualActivityHours  = "unusual_activity_hours"
	AnomalyNewLocation           = "new_location_access"
	AnomalyImpossibleTravel      = "impossible_travel"
	AnomalyNewDevice             = "new_device_access"
)

// Anomaly is a scored deviation of recent behavior from a user's baseline.
type Anomaly struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"user_id"`
	Type       string          `json:"type"`
	Severity   schema.Severity `json:"severity"`
	Confidence float64         `json:"confidence"`
	Details    map[string]any  `json:"details,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// AnomalyHandler is called for each emitted anomaly.
type AnomalyHandler func(context.Context, *Anomaly) error

func newAnomaly(userID, anomalyType string, severity schema.Severity, confidence float64, details map[string]any) *Anomaly {
	return &Anomaly{
		ID:         uuid.New(),
		UserID:     userID,
		Type:       anomalyType,
		Severity:   severity,
		Confidence: clamp01(confidence),
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
