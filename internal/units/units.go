// Package units provides shared constants and conversions for the clinical
// measurement units used throughout the engine. World-space landmarks arrive
// in the pose model's metric units; reach and displacement values are
// reported in centimetres, speeds in centimetres per second and angles in
// degrees.
package units

import "math"

// Unit constants for API query parameters.
const (
	CM  = "cm"
	M   = "m"
	CMS = "cms" // centimetres per second
	MS  = "ms"  // metres per second
)

// ValidDistanceUnits contains all valid distance unit values.
var ValidDistanceUnits = []string{CM, M}

// IsValidDistanceUnit checks if the given unit is a supported distance unit.
func IsValidDistanceUnit(unit string) bool {
	for _, v := range ValidDistanceUnits {
		if unit == v {
			return true
		}
	}
	return false
}

// ScaleToCm converts a raw world-unit measurement to centimetres using the
// calibration scale factor (cm per world unit).
func ScaleToCm(worldUnits, scaleFactor float64) float64 {
	return worldUnits * scaleFactor
}

// ConvertDistance converts a centimetre value to the target units.
// Unknown units pass the value through unchanged.
func ConvertDistance(cm float64, targetUnits string) float64 {
	switch targetUnits {
	case M:
		return cm / 100
	default:
		return cm
	}
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180 }
