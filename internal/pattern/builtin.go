package pattern

import (
	"time"

	"sentinel-ueba/internal/schema"
)

// BuiltinPatterns returns the default attack-pattern catalog. Each
// pattern is registered automatically when an engine is created.
func BuiltinPatterns() []*Pattern {
	return []*Pattern{
		{
			ID:          "brute_force_login",
			Name:        "Brute Force Login",
			Description: "Repeated failed logins followed by a successful login",
			Severity:    schema.SeverityHigh,
			Category:    "authentication",
			Enabled:     true,
			Window:      5 * time.Minute,
			Confidence:  0.85,
			Conditions: []Condition{
				{
					Type:      ConditionEventCount,
					Field:     "event_type",
					Value:     schema.EventLoginFailed,
					Threshold: 5,
				},
				{
					Type:     ConditionEventSequence,
					Sequence: []string{schema.EventLoginFailed, schema.EventLoginSuccess},
				},
			},
		},
		{
			ID:          "credential_stuffing",
			Name:        "Credential Stuffing",
			Description: "Failed logins against one account from several source addresses",
			Severity:    schema.SeverityHigh,
			Category:    "authentication",
			Enabled:     true,
			Window:      10 * time.Minute,
			Confidence:  0.8,
			Conditions: []Condition{
				{
					Type:      ConditionEventCount,
					Field:     "event_type",
					Value:     schema.EventLoginFailed,
					Threshold: 3,
				},
				{
					Type:      ConditionUniqueFieldCount,
					Field:     "ip_address",
					Threshold: 3,
				},
				{
					Type:  ConditionSameFieldValue,
					Field: "user_id",
				},
			},
		},
		{
			ID:          "data_exfiltration",
			Name:        "Data Exfiltration",
			Description: "Large cumulative data volume over many access events",
			Severity:    schema.SeverityCritical,
			Category:    "data-loss",
			Enabled:     true,
			Window:      time.Hour,
			Confidence:  0.9,
			Conditions: []Condition{
				{
					Type:      ConditionFieldAggregate,
					Function:  "sum",
					Field:     "metadata.size",
					Threshold: 100 * 1024 * 1024,
				},
				{
					Type:      ConditionEventCount,
					Field:     "event_type",
					Values:    []string{schema.EventAPIAccess, schema.EventResourceAccess},
					Threshold: 10,
				},
			},
		},
		{
			ID:          "api_abuse",
			Name:        "API Abuse",
			Description: "Sustained high-rate API access",
			Severity:    schema.SeverityMedium,
			Category:    "abuse",
			Enabled:     true,
			Window:      time.Minute,
			Confidence:  0.8,
			Conditions: []Condition{
				{
					Type:      ConditionEventCount,
					Field:     "event_type",
					Value:     schema.EventAPIAccess,
					Threshold: 100,
				},
			},
		},
	}
}
