package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenSkyCam/internal/ephemeris"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
)

const (
	LatestRaw     = "latest.raw"
	LatestSidecar = "latest.yaml"
)

// Sidecar is the YAML document stored next to every raw frame.
type Sidecar struct {
	ID         uuid.UUID              `yaml:"id"`
	Timestamp  time.Time              `yaml:"timestamp"`
	Exposure   float64                `yaml:"exposure"`
	Nominal    float64                `yaml:"nominal_exposure"`
	Dark       bool                   `yaml:"dark"`
	DarkFrame  string                 `yaml:"dark_frame,omitempty"`
	Site       string                 `yaml:"site"`
	Role       string                 `yaml:"role"`
	Device     string                 `yaml:"device"`
	Width      int                    `yaml:"width"`
	Height     int                    `yaml:"height"`
	SunState   string                 `yaml:"sun_state"`
	Camera     protocol.CameraInfo    `yaml:"camera"`
	Ephemeris  ephemeris.SunEphemeris `yaml:"ephemeris"`
	Processing Processing             `yaml:"processing"`
}

type Processing struct {
	Debayer     bool `yaml:"debayer"`
	Grayscale   bool `yaml:"grayscale"`
	Postprocess bool `yaml:"postprocess"`
	Overlay     bool `yaml:"overlay"`
	Rotate180   bool `yaml:"rotate180"`
}

// FileWriter lays captures out as <dir>/<YYYYMMDD>/<site>-<role>-<time>.raw
// and keeps latest.raw / latest.yaml pointing at the newest one.
type FileWriter struct {
	dir    string
	site   string
	logger *zap.Logger
}

func NewFileWriter(dir, site string, logger *zap.Logger) *FileWriter {
	return &FileWriter{dir: dir, site: site, logger: logger}
}

func (w *FileWriter) Process(ctx context.Context, h Handoff) (string, error) {
	if h.Image == nil {
		return "", fmt.Errorf("handoff without image")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ts := h.Image.Timestamp.UTC()
	dayDir := filepath.Join(w.dir, ts.Format("20060102"))
	if err := os.MkdirAll(dayDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dayDir, err)
	}

	base := fmt.Sprintf("%s-%s-%s", w.site, h.Role, ts.Format("20060102T150405Z"))
	rawPath := filepath.Join(dayDir, base+".raw")
	if err := writeAtomic(rawPath, h.Image.Data); err != nil {
		return "", err
	}

	sc := Sidecar{
		ID:        h.Image.ID,
		Timestamp: ts,
		Exposure:  h.Image.Exposure,
		Nominal:   h.Nominal,
		Dark:      h.Image.Dark,
		Site:      w.site,
		Role:      h.Role,
		Device:    h.Device.Device,
		Width:     h.Image.Width,
		Height:    h.Image.Height,
		SunState:  h.Ephemeris.State().String(),
		Camera:    h.Info,
		Ephemeris: h.Ephemeris,
		Processing: Processing{
			Debayer:     h.Device.Debayer,
			Grayscale:   h.Device.Grayscale,
			Postprocess: h.Device.Postprocess,
			Overlay:     h.Device.Overlay,
			Rotate180:   h.Device.Rotate180,
		},
	}

	if h.Dark != nil {
		darkName := base + "-dark.raw"
		if err := writeAtomic(filepath.Join(dayDir, darkName), h.Dark.Data); err != nil {
			return "", err
		}
		sc.DarkFrame = darkName
	}

	doc, err := yaml.Marshal(&sc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	sidecarPath := filepath.Join(dayDir, base+".yaml")
	if err := writeAtomic(sidecarPath, doc); err != nil {
		return "", err
	}

	if err := w.link(rawPath, LatestRaw); err != nil {
		return "", err
	}
	if err := w.link(sidecarPath, LatestSidecar); err != nil {
		return "", err
	}

	w.logger.Debug("Capture written",
		zap.String("path", rawPath),
		zap.String("role", h.Role),
		zap.Bool("dark_frame", h.Dark != nil))

	return rawPath, nil
}

// link points <dir>/<name> at target by renaming a fresh symlink over it.
func (w *FileWriter) link(target, name string) error {
	rel, err := filepath.Rel(w.dir, target)
	if err != nil {
		return fmt.Errorf("relative link target: %w", err)
	}

	linkPath := filepath.Join(w.dir, name)
	tmp := linkPath + ".tmp"
	os.Remove(tmp)
	if err := os.Symlink(rel, tmp); err != nil {
		return fmt.Errorf("failed to create symlink: %w", err)
	}
	if err := os.Rename(tmp, linkPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", linkPath, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename into %s: %w", path, err)
	}
	return nil
}
