package schema

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// eventTypePattern defines the valid format for event type strings.
// Event types must be lowercase, start with a letter, and use underscores
// or dots as separators. Examples: "login_failed", "api_access", "file.read"
var eventTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

// ValidationError indicates an event that cannot be recorded.
// Malformed input never corrupts engine state.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for a field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// Validator handles validation of events against the canonical schema.
type Validator struct {
	validate  *validator.Validate
	maxAge    time.Duration
	maxFuture time.Duration
}

// ValidatorConfig holds configuration for the validator.
type ValidatorConfig struct {
	MaxAge    time.Duration
	MaxFuture time.Duration
}

// DefaultValidatorConfig returns the default validator configuration.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		MaxAge:    7 * 24 * time.Hour,
		MaxFuture: 5 * time.Minute,
	}
}

// NewValidator creates a new Validator with default configuration.
func NewValidator() *Validator {
	return NewValidatorWithConfig(DefaultValidatorConfig())
}

// NewValidatorWithConfig creates a new Validator with the specified configuration.
func NewValidatorWithConfig(cfg ValidatorConfig) *Validator {
	v := validator.New()

	// Report failures by wire field name, not Go field name.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	v.RegisterValidation("event_type_format", func(fl validator.FieldLevel) bool {
		return eventTypePattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate:  v,
		maxAge:    cfg.MaxAge,
		maxFuture: cfg.MaxFuture,
	}
}

// Validate validates an event against the canonical schema. All failure
// modes return a *ValidationError so callers can distinguish bad input
// from transient faults.
func (v *Validator) Validate(event *Event) error {
	if event.UserID == "" {
		return NewValidationError("user_id", "is required")
	}
	if event.EventType == "" {
		return NewValidationError("event_type", "is required")
	}

	if err := v.validate.Struct(event); err != nil {
		var ferrs validator.ValidationErrors
		if errors.As(err, &ferrs) && len(ferrs) > 0 {
			fe := ferrs[0]
			return NewValidationError(fe.Field(), fmt.Sprintf("failed %s validation", fe.Tag()))
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	// Timestamp bounds check; zero timestamps are stamped at record time.
	if !event.Timestamp.IsZero() {
		now := time.Now().UTC()
		if event.Timestamp.Before(now.Add(-v.maxAge)) {
			return NewValidationError("timestamp", fmt.Sprintf("older than max age %v", v.maxAge))
		}
		if event.Timestamp.After(now.Add(v.maxFuture)) {
			return NewValidationError("timestamp", fmt.Sprintf("more than %v in the future", v.maxFuture))
		}
	}

	return nil
}

// ValidateEventType checks if an event type string matches the required format.
func ValidateEventType(eventType string) bool {
	return eventTypePattern.MatchString(eventType)
}
