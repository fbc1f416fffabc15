package behavior

import (
	"math"
	"sort"
	"time"

	"sentinel-ueba/internal/schema"
)

// Detector thresholds. Each detector has its own data-sufficiency floor
// and runs independently of the others.
const (
	minDetectorLogins    = 5
	minDetectorAccesses  = 10
	minRecentEvents      = 10
	minLocatedEvents     = 5
	minDeviceEvents      = 5
	rapidLoginWindow     = 5 * time.Minute
	rapidLoginCount      = 5
	frequencyRatioFloor  = 3.0
	entropyFloor         = 0.5
	entropyMinAccesses   = 20
	travelPairSpan       = 10
	recentActivityWindow = 24 * time.Hour
	deviceWindow         = 7 * 24 * time.Hour
)

// detector evaluates one behavioral dimension against the baseline.
type detector func(userID string, events []*schema.Event, base Baselines, stddevThreshold float64, now time.Time) []*Anomaly

// detectors returns the full detector set in evaluation order.
func detectors() []struct {
	name string
	fn   detector
} {
	return []struct {
		name string
		fn   detector
	}{
		{"login_timing", detectLoginTiming},
		{"access_frequency", detectAccessFrequency},
		{"activity_hours", detectActivityHours},
		{"location", detectLocation},
		{"device", detectDevice},
	}
}

// detectLoginTiming flags logins at statistically unusual hours and bursts
// of rapid successive logins.
func detectLoginTiming(userID string, events []*schema.Event, base Baselines, stddevThreshold float64, now time.Time) []*Anomaly {
	var logins []*schema.Event
	for _, event := range events {
		if event.IsLogin() {
			logins = append(logins, event)
		}
	}

	var anomalies []*Anomaly

	if len(logins) >= minDetectorLogins && len(base.LoginHours) > 0 {
		var histogram [24]float64
		for _, event := range logins {
			histogram[event.Timestamp.Hour()]++
		}

		mean := float64(len(logins)) / 24
		var variance float64
		for _, count := range histogram {
			diff := count - mean
			variance += diff * diff
		}
		stddev := math.Sqrt(variance / 24)

		var unusualHours []int
		maxZ := 0.0
		for hour, count := range histogram {
			if count == 0 || base.HasLoginHour(hour) || stddev == 0 {
				continue
			}
			z := (count - mean) / stddev
			if z > stddevThreshold {
				unusualHours = append(unusualHours, hour)
				if z > maxZ {
					maxZ = z
				}
			}
		}

		if len(unusualHours) > 0 {
			anomalies = append(anomalies, newAnomaly(userID, AnomalyUnusualLoginTime, schema.SeverityMedium,
				maxZ/(2*stddevThreshold),
				map[string]any{
					"unusual_hours": unusualHours,
					"max_deviation": maxZ,
					"threshold":     stddevThreshold,
				}))
		}
	}

	// Burst check is baseline-independent.
	recentLogins := 0
	cutoff := now.Add(-rapidLoginWindow)
	for _, event := range logins {
		if event.Timestamp.After(cutoff) {
			recentLogins++
		}
	}
	if recentLogins > rapidLoginCount {
		anomalies = append(anomalies, newAnomaly(userID, AnomalyRapidLogins, schema.SeverityHigh, 0.8,
			map[string]any{
				"login_count": recentLogins,
				"window":      rapidLoginWindow.String(),
			}))
	}

	return anomalies
}

// detectAccessFrequency flags request rates far above baseline and
// abnormally concentrated resource access (low Shannon entropy).
func detectAccessFrequency(userID string, events []*schema.Event, base Baselines, _ float64, _ time.Time) []*Anomaly {
	var access []*schema.Event
	for _, event := range events {
		if event.IsAccess() {
			access = append(access, event)
		}
	}
	if len(access) < minDetectorAccesses {
		return nil
	}

	var anomalies []*Anomaly

	if current, ok := requestFrequency(access); ok && base.RequestFrequency > 0 {
		ratio := current / base.RequestFrequency
		if ratio > frequencyRatioFloor {
			anomalies = append(anomalies, newAnomaly(userID, AnomalyUnusualFrequency, schema.SeverityMedium,
				math.Min(ratio/5, 1),
				map[string]any{
					"current_frequency":  current,
					"baseline_frequency": base.RequestFrequency,
					"ratio":              ratio,
				}))
		}
	}

	// Low entropy over the per-resource distribution indicates a
	// concentrated, likely automated access pattern.
	resourceCounts := make(map[string]int)
	total := 0
	for _, event := range access {
		resource, ok := event.Field("metadata.resource").(string)
		if !ok || resource == "" {
			continue
		}
		resourceCounts[resource]++
		total++
	}
	if total > entropyMinAccesses {
		entropy := shannonEntropy(resourceCounts, total)
		if entropy < entropyFloor {
			anomalies = append(anomalies, newAnomaly(userID, AnomalyUnusualResourceAccess, schema.SeverityMedium,
				1-entropy,
				map[string]any{
					"entropy":        entropy,
					"resource_count": len(resourceCounts),
					"access_count":   total,
				}))
		}
	}

	return anomalies
}

// shannonEntropy computes the entropy (bits) of a categorical distribution.
func shannonEntropy(counts map[string]int, total int) float64 {
	if total == 0 {
		return 0
	}
	entropy := 0.0
	for _, count := range counts {
		if count == 0 {
			continue
		}
		p := float64(count) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// detectActivityHours flags activity during hours absent from the user's
// active-hour baseline, over the last 24 hours of events.
func detectActivityHours(userID string, events []*schema.Event, base Baselines, _ float64, now time.Time) []*Anomaly {
	if len(base.ActiveHours) == 0 {
		return nil
	}

	cutoff := now.Add(-recentActivityWindow)
	var seen [24]bool
	recent := 0
	for _, event := range events {
		if event.Timestamp.After(cutoff) {
			seen[event.Timestamp.Hour()] = true
			recent++
		}
	}
	if recent < minRecentEvents {
		return nil
	}

	var unusualHours []int
	for hour, present := range seen {
		if present && !base.HasActiveHour(hour) {
			unusualHours = append(unusualHours, hour)
		}
	}
	if len(unusualHours) == 0 {
		return nil
	}

	return []*Anomaly{newAnomaly(userID, AnomalyUnusualActivityHours, schema.SeverityLow,
		float64(len(unusualHours))/24,
		map[string]any{
			"unusual_hours": unusualHours,
		})}
}

// detectLocation flags previously unseen locations and impossible travel
// between consecutive location-bearing events.
func detectLocation(userID string, events []*schema.Event, base Baselines, _ float64, _ time.Time) []*Anomaly {
	var located []*schema.Event
	for _, event := range events {
		if _, ok := event.Location(); ok {
			located = append(located, event)
		}
	}
	if len(located) < minLocatedEvents {
		return nil
	}

	var anomalies []*Anomaly

	if len(base.Locations) > 0 {
		seen := make(map[string]struct{})
		var newLocations []string
		for _, event := range located {
			loc, _ := event.Location()
			if _, dup := seen[loc]; dup {
				continue
			}
			seen[loc] = struct{}{}
			if !base.HasLocation(loc) {
				newLocations = append(newLocations, loc)
			}
		}
		if len(newLocations) > 0 {
			anomalies = append(anomalies, newAnomaly(userID, AnomalyNewLocation, schema.SeverityMedium, 0.7,
				map[string]any{
					"new_locations": newLocations,
				}))
		}
	}

	// Impossible travel over the last N location-bearing events, sorted
	// by timestamp.
	recent := located
	if len(recent) > travelPairSpan {
		recent = recent[len(recent)-travelPairSpan:]
	}
	sorted := append([]*schema.Event(nil), recent...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	for i := 1; i < len(sorted); i++ {
		prev, curr := sorted[i-1], sorted[i]
		prevLoc, _ := prev.Location()
		currLoc, _ := curr.Location()
		if prevLoc == currLoc {
			continue
		}

		distance := locationDistanceKm(prevLoc, currLoc)
		elapsedHours := curr.Timestamp.Sub(prev.Timestamp).Hours()

		impossible := false
		if elapsedHours <= 0 {
			impossible = distance > 0
		} else if distance/elapsedHours > maxTravelSpeedKmh {
			impossible = true
		}

		if impossible {
			details := map[string]any{
				"from_location": prevLoc,
				"to_location":   currLoc,
				"distance_km":   distance,
				"elapsed_hours": elapsedHours,
			}
			if elapsedHours > 0 {
				details["speed_kmh"] = distance / elapsedHours
			}
			anomalies = append(anomalies, newAnomaly(userID, AnomalyImpossibleTravel, schema.SeverityHigh, 0.9, details))
			break
		}
	}

	return anomalies
}

// detectDevice flags user agents absent from the device baseline, over
// the last 7 days of events.
func detectDevice(userID string, events []*schema.Event, base Baselines, _ float64, now time.Time) []*Anomaly {
	if len(base.UserAgents) == 0 {
		return nil
	}

	cutoff := now.Add(-deviceWindow)
	var recent []*schema.Event
	for _, event := range events {
		if event.Timestamp.After(cutoff) {
			recent = append(recent, event)
		}
	}
	if len(recent) < minDeviceEvents {
		return nil
	}

	seen := make(map[string]struct{})
	var newAgents []string
	for _, event := range recent {
		if event.UserAgent == "" {
			continue
		}
		if _, dup := seen[event.UserAgent]; dup {
			continue
		}
		seen[event.UserAgent] = struct{}{}
		if !base.HasUserAgent(event.UserAgent) {
			newAgents = append(newAgents, event.UserAgent)
		}
	}
	if len(newAgents) == 0 {
		return nil
	}

	return []*Anomaly{newAnomaly(userID, AnomalyNewDevice, schema.SeverityMedium, 0.6,
		map[string]any{
			"new_user_agents": newAgents,
		})}
}
