package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/scheduler"
)

func TestMemoryLog(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLog(3)

	if _, err := m.LatestCapture(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty LatestCapture err = %v", err)
	}

	for i := 0; i < 5; i++ {
		m.SaveCapture(ctx, CaptureRecord{ID: uuid.New(), ExposureSeconds: float64(i)})
	}

	all, _ := m.ListCaptures(ctx, 0)
	if len(all) != 3 || all[0].ExposureSeconds != 4 || all[2].ExposureSeconds != 2 {
		t.Errorf("ListCaptures = %+v", all)
	}
	two, _ := m.ListCaptures(ctx, 2)
	if len(two) != 2 {
		t.Errorf("limit ignored: %d", len(two))
	}
	latest, err := m.LatestCapture(ctx)
	if err != nil || latest.ExposureSeconds != 4 {
		t.Errorf("LatestCapture = %+v, %v", latest, err)
	}
}

func TestRecorder(t *testing.T) {
	m := NewMemoryLog(10)
	r := NewRecorder(m, zap.NewNop())

	id := uuid.New()
	started := time.Date(2026, 5, 1, 22, 0, 1, 0, time.UTC)
	r.IterationComplete(scheduler.Result{
		Started: started, Role: "night", Device: "sim://night", Sun: "night",
		Nominal: 30, Exposure: 30, ImageID: id.String(), DarkRefreshed: true, DarkApplied: true,
		Path: "/data/x.raw",
	})
	r.IterationComplete(scheduler.Result{Started: started.Add(time.Minute), Role: "night", Error: "capture: timeout"})

	recs, _ := m.ListCaptures(context.Background(), 10)
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	if recs[1].ID != id || !recs[1].Dark || !recs[1].CapturedAt.Equal(started) || recs[1].Path != "/data/x.raw" {
		t.Errorf("success record = %+v", recs[1])
	}
	if recs[0].ID == uuid.Nil || recs[0].Error == "" {
		t.Errorf("failure record = %+v", recs[0])
	}
}

// TestPostgresCaptureLog needs a scratch database named allsky_test owned
// by user allsky on ALLSKY_TEST_DB_HOST.
func TestPostgresCaptureLog(t *testing.T) {
	host := os.Getenv("ALLSKY_TEST_DB_HOST")
	if host == "" {
		t.Skip("ALLSKY_TEST_DB_HOST not set")
	}

	cfg := config.DatabaseConfig{
		Host:           host,
		Port:           5432,
		Database:       "allsky_test",
		User:           "allsky",
		Password:       os.Getenv("ALLSKY_TEST_DB_PASSWORD"),
		MaxConnections: 2,
	}

	ctx := context.Background()
	db, err := NewPostgresClient(ctx, cfg)
	if err != nil {
		t.Fatalf("NewPostgresClient: %v", err)
	}
	defer db.Close()

	rec := CaptureRecord{
		ID:              uuid.New(),
		Role:            "day",
		Device:          "sim://day",
		CapturedAt:      time.Now().UTC().Truncate(time.Microsecond).Add(24 * time.Hour),
		ExposureSeconds: 0.002,
		NominalSeconds:  0.001,
		SunState:        "day",
	}
	if err := db.SaveCapture(ctx, rec); err != nil {
		t.Fatalf("SaveCapture: %v", err)
	}
	latest, err := db.LatestCapture(ctx)
	if err != nil || latest.ID != rec.ID || !latest.CapturedAt.Equal(rec.CapturedAt) {
		t.Errorf("LatestCapture = %+v, %v", latest, err)
	}
}
