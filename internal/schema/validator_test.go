package schema

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEvent() *Event {
	return &Event{
		EventID:   uuid.New(),
		UserID:    "alice",
		EventType: "login_failed",
		Timestamp: time.Now().UTC(),
		SessionID: "sess-1",
		IPAddress: "192.0.2.10",
		UserAgent: "Mozilla/5.0",
	}
}

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		modify  func(*Event)
		wantErr bool
	}{
		{
			name:    "valid event",
			modify:  func(e *Event) {},
			wantErr: false,
		},
		{
			name:    "missing user id",
			modify:  func(e *Event) { e.UserID = "" },
			wantErr: true,
		},
		{
			name:    "missing event type",
			modify:  func(e *Event) { e.EventType = "" },
			wantErr: true,
		},
		{
			name:    "uppercase event type",
			modify:  func(e *Event) { e.EventType = "LoginFailed" },
			wantErr: true,
		},
		{
			name:    "dotted event type",
			modify:  func(e *Event) { e.EventType = "file.read" },
			wantErr: false,
		},
		{
			name:    "invalid ip address",
			modify:  func(e *Event) { e.IPAddress = "not-an-ip" },
			wantErr: true,
		},
		{
			name:    "zero timestamp allowed",
			modify:  func(e *Event) { e.Timestamp = time.Time{} },
			wantErr: false,
		},
		{
			name:    "timestamp too old",
			modify:  func(e *Event) { e.Timestamp = time.Now().Add(-30 * 24 * time.Hour) },
			wantErr: true,
		},
		{
			name:    "timestamp in future",
			modify:  func(e *Event) { e.Timestamp = time.Now().Add(time.Hour) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.modify(event)
			err := v.Validate(event)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidator_ValidationErrorType(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name      string
		modify    func(*Event)
		wantField string
	}{
		{"missing user id", func(e *Event) { e.UserID = "" }, "user_id"},
		{"invalid ip address", func(e *Event) { e.IPAddress = "not-an-ip" }, "ip_address"},
		{"bad event type format", func(e *Event) { e.EventType = "LoginFailed" }, "event_type"},
		{"stale timestamp", func(e *Event) { e.Timestamp = time.Now().Add(-30 * 24 * time.Hour) }, "timestamp"},
		{"future timestamp", func(e *Event) { e.Timestamp = time.Now().Add(time.Hour) }, "timestamp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.modify(event)

			err := v.Validate(event)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("ValidationError field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func TestValidateEventType(t *testing.T) {
	tests := []struct {
		eventType string
		valid     bool
	}{
		{"login", true},
		{"login_failed", true},
		{"api_access", true},
		{"file.read", true},
		{"Login", false},
		{"", false},
		{"9login", false},
		{"login-failed", false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			if got := ValidateEventType(tt.eventType); got != tt.valid {
				t.Errorf("ValidateEventType(%q) = %v, want %v", tt.eventType, got, tt.valid)
			}
		})
	}
}
