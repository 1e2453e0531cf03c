package ephemeris

import (
	"errors"
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNew_RejectsOutOfOrder(t *testing.T) {
	now := at("2026-06-01T12:00:00Z")
	_, err := New(now,
		at("2026-06-01T13:00:00Z"), at("2026-06-02T04:00:00Z"),
		at("2026-05-31T19:00:00Z"), at("2026-06-01T19:00:00Z"))
	if err == nil {
		t.Fatal("expected error for prev sunrise after t")
	}
}

func TestState(t *testing.T) {
	noon, err := New(at("2026-06-01T12:00:00Z"),
		at("2026-06-01T04:00:00Z"), at("2026-06-02T04:00:00Z"),
		at("2026-05-31T19:00:00Z"), at("2026-06-01T19:00:00Z"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if noon.State() != Day {
		t.Errorf("noon state = %s, want day", noon.State())
	}

	midnight, err := New(at("2026-06-01T23:00:00Z"),
		at("2026-06-01T04:00:00Z"), at("2026-06-02T04:00:00Z"),
		at("2026-06-01T19:00:00Z"), at("2026-06-02T19:00:00Z"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if midnight.State() != Night {
		t.Errorf("midnight state = %s, want night", midnight.State())
	}
}

func TestSunriseOracle_Brackets(t *testing.T) {
	// Berlin
	oracle := SunriseOracle{Latitude: 52.52, Longitude: 13.405}

	for _, ts := range []string{"2026-03-20T12:00:00Z", "2026-03-20T23:30:00Z", "2026-12-21T03:00:00Z"} {
		now := at(ts)
		eph, err := oracle.Compute(now)
		if err != nil {
			t.Fatalf("Compute(%s): %v", ts, err)
		}
		if eph.PrevSunrise.After(now) || !eph.NextSunrise.After(now) {
			t.Errorf("%s: sunrise bracket %s .. %s", ts, eph.PrevSunrise, eph.NextSunrise)
		}
		if eph.PrevSunset.After(now) || !eph.NextSunset.After(now) {
			t.Errorf("%s: sunset bracket %s .. %s", ts, eph.PrevSunset, eph.NextSunset)
		}
		if eph.NextSunrise.Sub(eph.PrevSunrise) > 25*time.Hour {
			t.Errorf("%s: sunrises %s apart", ts, eph.NextSunrise.Sub(eph.PrevSunrise))
		}
	}

	noon, _ := oracle.Compute(at("2026-03-20T12:00:00Z"))
	if noon.State() != Day {
		t.Errorf("noon state = %s, want day", noon.State())
	}
	night, _ := oracle.Compute(at("2026-03-20T23:30:00Z"))
	if night.State() != Night {
		t.Errorf("night state = %s, want night", night.State())
	}
}

func TestSunriseOracle_PolarNight(t *testing.T) {
	oracle := SunriseOracle{Latitude: 80, Longitude: 15}
	_, err := oracle.Compute(at("2026-12-21T12:00:00Z"))
	if !errors.Is(err, ErrNoSunEvent) {
		t.Errorf("err = %v, want ErrNoSunEvent", err)
	}
}
