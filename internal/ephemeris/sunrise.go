package ephemeris

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// searchDays is how many days around t are scanned for events.
const searchDays = 2

// SunriseOracle computes sun events with go-sunrise. Elevation is carried
// for the site metadata, the library models a sea-level horizon.
type SunriseOracle struct {
	Latitude  float64
	Longitude float64
	Elevation float64
}

func (o SunriseOracle) Compute(t time.Time) (SunEphemeris, error) {
	t = t.UTC()

	var rises, sets []time.Time
	for offset := -searchDays; offset <= searchDays; offset++ {
		day := t.AddDate(0, 0, offset)
		rise, set := sunrise.SunriseSunset(o.Latitude, o.Longitude, day.Year(), day.Month(), day.Day())
		if !rise.IsZero() {
			rises = append(rises, rise.UTC())
		}
		if !set.IsZero() {
			sets = append(sets, set.UTC())
		}
	}

	prevRise, nextRise, err := bracket(t, rises)
	if err != nil {
		return SunEphemeris{}, fmt.Errorf("sunrise at %.4f,%.4f: %w", o.Latitude, o.Longitude, err)
	}
	prevSet, nextSet, err := bracket(t, sets)
	if err != nil {
		return SunEphemeris{}, fmt.Errorf("sunset at %.4f,%.4f: %w", o.Latitude, o.Longitude, err)
	}

	return New(t, prevRise, nextRise, prevSet, nextSet)
}

// bracket finds the latest event <= t and the earliest event > t.
func bracket(t time.Time, events []time.Time) (prev, next time.Time, err error) {
	for _, ev := range events {
		if !ev.After(t) {
			if prev.IsZero() || ev.After(prev) {
				prev = ev
			}
		} else if next.IsZero() || ev.Before(next) {
			next = ev
		}
	}
	if prev.IsZero() || next.IsZero() {
		return prev, next, ErrNoSunEvent
	}
	return prev, next, nil
}
