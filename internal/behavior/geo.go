package behavior

import (
	"math"
	"strconv"
	"strings"
)

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// fallbackDistanceKm is assumed between two differing location tags that
// do not carry coordinates.
const fallbackDistanceKm = 500.0

// maxTravelSpeedKmh is the commercial-flight ceiling; faster apparent
// movement between two events is flagged as impossible travel.
const maxTravelSpeedKmh = 1000.0

// parseCoordinates extracts "lat,lon" from a location tag.
// Tags like "40.7128,-74.0060" parse; named tags like "office-nyc" do not.
func parseCoordinates(location string) (lat, lon float64, ok bool) {
	parts := strings.SplitN(location, ",", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	return lat, lon, true
}

// haversineKm computes the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// locationDistanceKm estimates the distance between two location tags.
// Coordinate pairs use haversine; differing non-coordinate tags fall back
// to a fixed distance, and identical tags are zero.
func locationDistanceKm(a, b string) float64 {
	if a == b {
		return 0
	}
	lat1, lon1, ok1 := parseCoordinates(a)
	lat2, lon2, ok2 := parseCoordinates(b)
	if ok1 && ok2 {
		return haversineKm(lat1, lon1, lat2, lon2)
	}
	return fallbackDistanceKm
}
