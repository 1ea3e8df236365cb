package units

import (
	"math"
	"testing"
)

func TestConvertDistance(t *testing.T) {
	tests := []struct {
		name     string
		meters   float64
		units    string
		expected float64
	}{
		{"1500 m to km", 1500, Kilometers, 1.5},
		{"100 m to ft", 100, Feet, 328.084},
		{"1609.344 m to mi", 1609.344, Miles, 1},
		{"42 m to m", 42, Meters, 42},
		{"unknown units default to m", 42, "furlong", 42},
		{"0 m to mi", 0, Miles, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertDistance(tt.meters, tt.units)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertDistance(%f, %s) = %f, want %f", tt.meters, tt.units, result, tt.expected)
			}
		})
	}
}

func TestConvertDuration(t *testing.T) {
	if got := ConvertDuration(90, Hours); got != 1.5 {
		t.Errorf("ConvertDuration(90, h) = %f, want 1.5", got)
	}
	if got := ConvertDuration(90, Minutes); got != 90 {
		t.Errorf("ConvertDuration(90, min) = %f, want 90", got)
	}
	if got := ConvertDuration(90, ""); got != 90 {
		t.Errorf("ConvertDuration(90, \"\") = %f, want 90", got)
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		distance bool
		duration bool
	}{
		{"meters", Meters, true, false},
		{"kilometers", Kilometers, true, false},
		{"feet", Feet, true, false},
		{"miles", Miles, true, false},
		{"minutes", Minutes, false, true},
		{"hours", Hours, false, true},
		{"invalid unit", "invalid", false, false},
		{"empty string", "", false, false},
		{"case sensitive", "KM", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidDistance(tt.unit); got != tt.distance {
				t.Errorf("IsValidDistance(%s) = %v, want %v", tt.unit, got, tt.distance)
			}
			if got := IsValidDuration(tt.unit); got != tt.duration {
				t.Errorf("IsValidDuration(%s) = %v, want %v", tt.unit, got, tt.duration)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	if got := GetValidDistanceUnitsString(); got != "m, km, ft, mi" {
		t.Errorf("GetValidDistanceUnitsString() = %s", got)
	}
	if got := GetValidDurationUnitsString(); got != "min, h" {
		t.Errorf("GetValidDurationUnitsString() = %s", got)
	}
}
