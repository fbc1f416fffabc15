package behavior

import (
	"sort"
	"time"

	"sentinel-ueba/internal/schema"
)

// Minimum data requirements for each sub-baseline. A sub-baseline with
// insufficient data keeps its previous value rather than resetting.
const (
	minLoginSamples  = 5
	minAccessSamples = 10
	// Hours whose login frequency is below this fraction of the busiest
	// hour are not considered typical.
	typicalHourRatio = 0.30
)

// Baselines is a user's learned statistical snapshot. It is overwritten
// wholesale by recomputeBaselines, never partially mutated in place.
type Baselines struct {
	// LoginHours are the hours-of-day the user typically logs in.
	LoginHours []int `json:"login_hours,omitempty"`
	// ActiveHours are all hours-of-day with any activity in the window.
	ActiveHours []int `json:"active_hours,omitempty"`
	// RequestFrequency is the typical access rate in events per second.
	// Zero means not yet established.
	RequestFrequency float64 `json:"request_frequency,omitempty"`
	// Locations are the location tags seen in the window.
	Locations []string `json:"locations,omitempty"`
	// UserAgents are the device strings seen in the window.
	UserAgents []string `json:"user_agents,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// HasLoginHour reports whether the hour is in the typical login set.
func (b *Baselines) HasLoginHour(hour int) bool {
	for _, h := range b.LoginHours {
		if h == hour {
			return true
		}
	}
	return false
}

// HasActiveHour reports whether the hour is in the active set.
func (b *Baselines) HasActiveHour(hour int) bool {
	for _, h := range b.ActiveHours {
		if h == hour {
			return true
		}
	}
	return false
}

// HasLocation reports whether the location tag is in the baseline.
func (b *Baselines) HasLocation(loc string) bool {
	for _, l := range b.Locations {
		if l == loc {
			return true
		}
	}
	return false
}

// HasUserAgent reports whether the device string is in the baseline.
func (b *Baselines) HasUserAgent(ua string) bool {
	for _, u := range b.UserAgents {
		if u == ua {
			return true
		}
	}
	return false
}

// recomputeBaselines derives a fresh baseline snapshot from the event
// window. Each sub-baseline updates independently: when its data
// sufficiency precondition fails, the previous value carries over.
func recomputeBaselines(prev Baselines, events []*schema.Event, now time.Time) Baselines {
	next := prev

	if hours := typicalLoginHours(events); hours != nil {
		next.LoginHours = hours
	}
	if hours := activeHours(events); hours != nil {
		next.ActiveHours = hours
	}
	if freq, ok := requestFrequency(events); ok {
		next.RequestFrequency = freq
	}
	if locs := distinctLocations(events); locs != nil {
		next.Locations = locs
	}
	if agents := distinctUserAgents(events); agents != nil {
		next.UserAgents = agents
	}

	next.UpdatedAt = now
	return next
}

// typicalLoginHours builds an hour-of-day histogram over login events and
// keeps hours at or above typicalHourRatio of the busiest bucket.
// Returns nil when fewer than minLoginSamples logins are present.
func typicalLoginHours(events []*schema.Event) []int {
	var histogram [24]int
	logins := 0
	for _, event := range events {
		if !event.IsLogin() {
			continue
		}
		histogram[event.Timestamp.Hour()]++
		logins++
	}
	if logins < minLoginSamples {
		return nil
	}

	max := 0
	for _, count := range histogram {
		if count > max {
			max = count
		}
	}

	var hours []int
	for hour, count := range histogram {
		if count > 0 && float64(count) >= typicalHourRatio*float64(max) {
			hours = append(hours, hour)
		}
	}
	return hours
}

// activeHours is the distinct set of hours-of-day present in the window,
// with no frequency thresholding. Returns nil for an empty window.
func activeHours(events []*schema.Event) []int {
	if len(events) == 0 {
		return nil
	}
	var seen [24]bool
	for _, event := range events {
		seen[event.Timestamp.Hour()] = true
	}
	var hours []int
	for hour, present := range seen {
		if present {
			hours = append(hours, hour)
		}
	}
	return hours
}

// requestFrequency computes events-per-second over access events as
// (count-1)/spanMs*1000. Requires minAccessSamples access events spanning
// a nonzero interval.
func requestFrequency(events []*schema.Event) (float64, bool) {
	var first, last time.Time
	count := 0
	for _, event := range events {
		if !event.IsAccess() {
			continue
		}
		if count == 0 {
			first = event.Timestamp
			last = event.Timestamp
		} else {
			if event.Timestamp.Before(first) {
				first = event.Timestamp
			}
			if event.Timestamp.After(last) {
				last = event.Timestamp
			}
		}
		count++
	}
	if count < minAccessSamples {
		return 0, false
	}
	spanMs := float64(last.Sub(first).Milliseconds())
	if spanMs <= 0 {
		return 0, false
	}
	return float64(count-1) / spanMs * 1000, true
}

func distinctLocations(events []*schema.Event) []string {
	seen := make(map[string]struct{})
	for _, event := range events {
		if loc, ok := event.Location(); ok {
			seen[loc] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	locs := make([]string, 0, len(seen))
	for loc := range seen {
		locs = append(locs, loc)
	}
	sort.Strings(locs)
	return locs
}

func distinctUserAgents(events []*schema.Event) []string {
	seen := make(map[string]struct{})
	for _, event := range events {
		if event.UserAgent != "" {
			seen[event.UserAgent] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	agents := make([]string, 0, len(seen))
	for ua := range seen {
		agents = append(agents, ua)
	}
	sort.Strings(agents)
	return agents
}
