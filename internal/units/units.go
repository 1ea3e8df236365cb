// Package units provides shared constants and conversions for the distance
// and duration figures reported in movement statistics.
package units

import "strings"

// Distance unit constants
const (
	Meters     = "m"
	Kilometers = "km"
	Feet       = "ft"
	Miles      = "mi"
)

// Duration unit constants
const (
	Minutes = "min"
	Hours   = "h"
)

// ValidDistanceUnits contains all valid distance unit values
var ValidDistanceUnits = []string{Meters, Kilometers, Feet, Miles}

// ValidDurationUnits contains all valid duration unit values
var ValidDurationUnits = []string{Minutes, Hours}

// IsValidDistance checks if the given unit is a known distance unit
func IsValidDistance(unit string) bool {
	return contains(ValidDistanceUnits, unit)
}

// IsValidDuration checks if the given unit is a known duration unit
func IsValidDuration(unit string) bool {
	return contains(ValidDurationUnits, unit)
}

// GetValidDistanceUnitsString returns a comma-separated string of valid
// distance units for error messages
func GetValidDistanceUnitsString() string {
	return strings.Join(ValidDistanceUnits, ", ")
}

// GetValidDurationUnitsString returns a comma-separated string of valid
// duration units for error messages
func GetValidDurationUnitsString() string {
	return strings.Join(ValidDurationUnits, ", ")
}

// ConvertDistance converts a distance from meters to the target units.
// The history store reports distances in meters.
func ConvertDistance(meters float64, targetUnits string) float64 {
	switch targetUnits {
	case Kilometers:
		return meters / 1000
	case Feet:
		return meters * 3.280839895
	case Miles:
		return meters / 1609.344
	default:
		return meters
	}
}

// ConvertDuration converts a duration from minutes to the target units.
func ConvertDuration(minutes float64, targetUnits string) float64 {
	switch targetUnits {
	case Hours:
		return minutes / 60
	default:
		return minutes
	}
}

func contains(list []string, unit string) bool {
	for _, u := range list {
		if unit == u {
			return true
		}
	}
	return false
}
