// Package units provides shared constants and validation for distance units
package units

import "strings"

// Unit constants
const (
	Meters     = "m"
	Kilometers = "km"
	Miles      = "mi"
)

const metersPerMile = 1609.344

// ValidUnits contains all valid unit values
var ValidUnits = []string{Meters, Kilometers, Miles}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// ConvertDistance converts a distance from meters to the target units.
// The store and classifier work in meters.
func ConvertDistance(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case Kilometers:
		return meters / 1000
	case Miles:
		return meters / metersPerMile
	default:
		return meters
	}
}
