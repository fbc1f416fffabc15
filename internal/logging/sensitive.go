package logging

import "strings"

// SensitiveFields lists metadata keys whose values must never reach the
// log stream. Matching is case-insensitive and substring-based.
var SensitiveFields = map[string]bool{
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"token":         true,
	"api_key":       true,
	"api-key":       true,
	"apikey":        true,
	"access_token":  true,
	"refresh_token": true,
	"private_key":   true,
	"client_secret": true,
	"credentials":   true,
	"authorization": true,
	"bearer":        true,
	"jwt":           true,
	"cookie":        true,
}

// MaskedValue replaces sensitive values.
const MaskedValue = "[REDACTED]"

// IsSensitiveField reports whether a field name looks sensitive.
func IsSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	if SensitiveFields[lower] {
		return true
	}
	for sensitive := range SensitiveFields {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}

// MaskMetadata returns a copy of event metadata with sensitive values
// replaced. Non-sensitive entries are passed through unchanged.
func MaskMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if IsSensitiveField(key) {
			out[key] = MaskedValue
		} else {
			out[key] = value
		}
	}
	return out
}

// SafeLogValue returns a loggable version of a value based on its field name.
func SafeLogValue(name string, value any) any {
	if value == nil || !IsSensitiveField(name) {
		return value
	}
	return MaskedValue
}
