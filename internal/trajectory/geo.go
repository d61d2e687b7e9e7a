package trajectory

import "math"

// EarthRadiusMeters is the mean Earth radius used by DistanceMeters.
const EarthRadiusMeters = 6371008.8

// Position is the observer's location fix at the time of a detection.
type Position struct {
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lon"`
	AccuracyMeters float64 `json:"accuracy_m"` // horizontal accuracy radius
}

// Valid reports whether the position is a usable fix.
func (p Position) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) || math.IsNaN(p.AccuracyMeters) {
		return false
	}
	if math.IsInf(p.AccuracyMeters, 0) || p.AccuracyMeters < 0 {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// DistanceMeters returns the great-circle (haversine) distance between the
// point estimates of two positions.
func DistanceMeters(a, b Position) float64 {
	lat1 := a.Latitude * math.Pi / 180.0
	lat2 := b.Latitude * math.Pi / 180.0
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180.0

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// rounding can push h fractionally past 1 for antipodal points
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// lowerBoundDistanceMeters is the smallest distance the true positions can be
// apart given both accuracy radii.
func lowerBoundDistanceMeters(a, b Position) float64 {
	d := DistanceMeters(a, b) - a.AccuracyMeters - b.AccuracyMeters
	if d < 0 {
		return 0
	}
	return d
}
