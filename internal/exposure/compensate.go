// Package exposure adapts the nominal exposure to the light level around
// sunrise and sunset.
package exposure

import (
	"errors"
	"math"
	"time"

	"github.com/KevinKickass/OpenSkyCam/internal/ephemeris"
)

var ErrNegativeDuration = errors.New("negative time difference")

// Window lengths in minutes.
const (
	DayWindow   = 20
	NightWindow = 45
)

func sunriseRamp(n float64) []Point {
	return []Point{{0, 4 * n}, {12, 2 * n}, {20, n}}
}

func sunsetRamp(n float64) []Point {
	return []Point{{-20, n}, {-12, 2 * n}, {0, 4 * n}}
}

func afterSunsetRamp(n float64) []Point {
	return []Point{{0, n / 5000}, {10, n / 2000}, {20, n / 750}, {35, n / 250}, {45, n}}
}

func beforeSunriseRamp(n float64) []Point {
	return []Point{{-45, n}, {-35, n / 250}, {-20, n / 750}, {-10, n / 2000}, {0, n / 5000}}
}

// Minutes returns the whole minutes from a to b, floor(seconds/60).
func Minutes(a, b time.Time) (int, error) {
	d := b.Sub(a)
	if d < 0 {
		return 0, ErrNegativeDuration
	}
	return int(math.Floor(d.Seconds() / 60)), nil
}

// Ramp returns the compensated exposure before grid rounding. Within a state
// the later window wins: sunset over sunrise by day, sunrise over sunset by
// night.
func Ramp(eph ephemeris.SunEphemeris, nominal float64) (float64, error) {
	result := nominal

	switch eph.State() {
	case ephemeris.Day:
		since, err := Minutes(eph.PrevSunrise, eph.Time)
		if err != nil {
			return 0, err
		}
		if since <= DayWindow {
			result = Interpolate(float64(since), sunriseRamp(nominal))
		}

		until, err := Minutes(eph.Time, eph.NextSunset)
		if err != nil {
			return 0, err
		}
		if until <= DayWindow {
			result = Interpolate(float64(-until), sunsetRamp(nominal))
		}

	case ephemeris.Night:
		since, err := Minutes(eph.PrevSunset, eph.Time)
		if err != nil {
			return 0, err
		}
		if since <= NightWindow {
			result = Interpolate(float64(since), afterSunsetRamp(nominal))
		}

		until, err := Minutes(eph.Time, eph.NextSunrise)
		if err != nil {
			return 0, err
		}
		if until <= NightWindow {
			result = Interpolate(float64(-until), beforeSunriseRamp(nominal))
		}
	}

	return result, nil
}

// Compensate is Ramp rounded to the camera's 100 µs grid.
func Compensate(eph ephemeris.SunEphemeris, nominal float64) (float64, error) {
	raw, err := Ramp(eph, nominal)
	if err != nil {
		return 0, err
	}
	return Round(raw), nil
}
