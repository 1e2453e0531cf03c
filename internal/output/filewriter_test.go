package output

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenSkyCam/internal/capture"
	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/ephemeris"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
	"github.com/KevinKickass/OpenSkyCam/internal/simcam"
)

func nightEphemeris(t *testing.T, now time.Time) ephemeris.SunEphemeris {
	t.Helper()
	eph, err := ephemeris.New(now,
		now.Add(-18*time.Hour), now.Add(6*time.Hour),
		now.Add(-2*time.Hour), now.Add(22*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	return eph
}

func TestFileWriter_Process(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir, "teide", zap.NewNop())

	now := time.Date(2026, 4, 5, 23, 30, 0, 0, time.UTC)
	raw := simcam.Frame(300000, false)
	img := &capture.Image{Timestamp: now, Exposure: 30, Width: 640, Height: 480, Data: raw}
	dark := &capture.Image{Timestamp: now.Add(-time.Minute), Exposure: 30, Dark: true, Data: simcam.Frame(0, true)}

	h := Handoff{
		Image:     img,
		Dark:      dark,
		Ephemeris: nightEphemeris(t, now),
		Info:      protocol.CameraInfo{BaudRate: 115200, SerialNumber: "AS1", FirmwareVersion: "R1.30"},
		Device:    config.DeviceConfig{Device: "sim://night", Exposure: 30, Dark: true, Debayer: true},
		Role:      config.RoleNight,
		Nominal:   30,
	}

	path, err := w.Process(context.Background(), h)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	want := filepath.Join(dir, "20260405", "teide-night-20260405T233000Z.raw")
	if path != want {
		t.Errorf("path = %s, want %s", path, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "20260405", "teide-night-20260405T233000Z-dark.raw")); err != nil {
		t.Errorf("dark frame missing: %v", err)
	}

	target, err := os.Readlink(filepath.Join(dir, LatestRaw))
	if err != nil || target != filepath.Join("20260405", "teide-night-20260405T233000Z.raw") {
		t.Errorf("latest.raw -> %q, %v", target, err)
	}

	doc, err := os.ReadFile(filepath.Join(dir, LatestSidecar))
	if err != nil {
		t.Fatalf("read sidecar: %v", err)
	}
	var sc Sidecar
	if err := yaml.Unmarshal(doc, &sc); err != nil {
		t.Fatalf("unmarshal sidecar: %v", err)
	}
	if sc.SunState != "night" || sc.Camera.SerialNumber != "AS1" || !sc.Processing.Debayer || sc.DarkFrame == "" {
		t.Errorf("sidecar = %+v", sc)
	}
	if !sc.Timestamp.Equal(now) || sc.Exposure != 30 {
		t.Errorf("sidecar timestamp/exposure = %s %v", sc.Timestamp, sc.Exposure)
	}
}

func TestFileWriter_ReplayThroughCapture(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir, "site", zap.NewNop())
	now := time.Date(2026, 4, 6, 1, 2, 0, 0, time.UTC)
	img := &capture.Image{Timestamp: now, Exposure: 12.5, Width: 640, Height: 480, Data: simcam.Frame(125000, false)}

	if _, err := w.Process(context.Background(), Handoff{Image: img, Ephemeris: nightEphemeris(t, now), Role: "night"}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	c := capture.NewController(capture.Options{}, zap.NewNop())
	replay, err := c.CaptureFromFile(filepath.Join(dir, LatestRaw), 1, time.Time{})
	if err != nil {
		t.Fatalf("CaptureFromFile: %v", err)
	}
	if replay.Exposure != 12.5 || !replay.Timestamp.Equal(now) {
		t.Errorf("replay = exposure %v at %s", replay.Exposure, replay.Timestamp)
	}
}

func TestFileWriter_LatestMovesForward(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir, "site", zap.NewNop())
	first := time.Date(2026, 4, 6, 23, 59, 0, 0, time.UTC)
	second := first.Add(time.Minute)

	for _, ts := range []time.Time{first, second} {
		img := &capture.Image{Timestamp: ts, Exposure: 1, Data: simcam.Frame(1, false)}
		if _, err := w.Process(context.Background(), Handoff{Image: img, Ephemeris: nightEphemeris(t, ts), Role: "night"}); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	target, _ := os.Readlink(filepath.Join(dir, LatestRaw))
	if filepath.Dir(target) != "20260407" {
		t.Errorf("latest.raw -> %s", target)
	}
}
