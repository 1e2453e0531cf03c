// Package ephemeris supplies the sunrise and sunset instants around a given
// time. The scheduler uses them to pick the day or night camera and the
// exposure compensator to ramp exposures across twilight.
package ephemeris

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoSunEvent = errors.New("no sunrise or sunset within search window")

type SunState int

const (
	Night SunState = iota
	Day
)

func (s SunState) String() string {
	if s == Day {
		return "day"
	}
	return "night"
}

// SunEphemeris holds the sun events bracketing Time, all in UTC.
type SunEphemeris struct {
	Time        time.Time `json:"time" yaml:"time"`
	PrevSunrise time.Time `json:"prev_sunrise" yaml:"prev_sunrise"`
	NextSunrise time.Time `json:"next_sunrise" yaml:"next_sunrise"`
	PrevSunset  time.Time `json:"prev_sunset" yaml:"prev_sunset"`
	NextSunset  time.Time `json:"next_sunset" yaml:"next_sunset"`
}

// New validates prev <= t <= next for both event pairs.
func New(t, prevSunrise, nextSunrise, prevSunset, nextSunset time.Time) (SunEphemeris, error) {
	if t.Before(prevSunrise) || t.After(nextSunrise) {
		return SunEphemeris{}, fmt.Errorf("%s not between sunrises %s and %s",
			t.Format(time.RFC3339), prevSunrise.Format(time.RFC3339), nextSunrise.Format(time.RFC3339))
	}
	if t.Before(prevSunset) || t.After(nextSunset) {
		return SunEphemeris{}, fmt.Errorf("%s not between sunsets %s and %s",
			t.Format(time.RFC3339), prevSunset.Format(time.RFC3339), nextSunset.Format(time.RFC3339))
	}

	return SunEphemeris{
		Time:        t.UTC(),
		PrevSunrise: prevSunrise.UTC(),
		NextSunrise: nextSunrise.UTC(),
		PrevSunset:  prevSunset.UTC(),
		NextSunset:  nextSunset.UTC(),
	}, nil
}

// State is Day when the next event is a sunset.
func (e SunEphemeris) State() SunState {
	if e.NextSunset.Before(e.NextSunrise) {
		return Day
	}
	return Night
}

// Oracle computes the ephemeris for an instant.
type Oracle interface {
	Compute(t time.Time) (SunEphemeris, error)
}
