// Package units provides the speed units supported for reporting and the conversion
// from calibrated millimetres per second.
package units

import (
	"fmt"
	"strings"
)

// Unit is a reporting speed unit.
type Unit string

// Unit constants
const (
	MPH Unit = "mph"
	KPH Unit = "kph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []Unit{MPH, KPH}

const (
	// mmPerSecondToKPH converts mm/s to km/h.
	mmPerSecondToKPH = 0.0036
	// kphToMPH converts km/h to mph.
	kphToMPH = 0.621371
)

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, u := range ValidUnits {
		if Unit(unit) == u {
			return true
		}
	}
	return false
}

// Parse returns the Unit for s, accepting "kmph" as an alias of kph.
func Parse(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mph":
		return MPH, nil
	case "kph", "kmph":
		return KPH, nil
	default:
		return "", fmt.Errorf("invalid speed unit %q (valid: %s)", s, GetValidUnitsString())
	}
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	names := make([]string, len(ValidUnits))
	for i, u := range ValidUnits {
		names[i] = string(u)
	}
	return strings.Join(names, ", ")
}

// FromMMPerSecond converts a speed in millimetres per second to the unit.
// Unknown units fall back to kph.
func (u Unit) FromMMPerSecond(v float64) float64 {
	kph := v * mmPerSecondToKPH
	switch u {
	case MPH:
		return kph * kphToMPH
	default:
		return kph
	}
}
