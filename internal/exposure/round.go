package exposure

import "math"

// unitMicros is the camera's exposure resolution.
const unitMicros = 100

// Units converts seconds to whole 100 µs camera units. The value is first
// snapped to the nearest microsecond so binary noise cannot move a value
// that is already on the grid, then rounded half-up. Negatives become 0.
func Units(seconds float64) int64 {
	if !(seconds > 0) {
		return 0
	}
	micros := int64(math.Round(seconds * 1e6))
	return (micros + unitMicros/2) / unitMicros
}

// Round returns seconds rounded to the 100 µs grid.
func Round(seconds float64) float64 {
	return float64(Units(seconds)*unitMicros) / 1e6
}
