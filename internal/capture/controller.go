// Package capture produces raw frames from a camera, a network bridge, a
// simulated camera or a replayed raw file behind one entry point.
package capture

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenSkyCam/internal/exposure"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
	"github.com/KevinKickass/OpenSkyCam/internal/simcam"
	"github.com/KevinKickass/OpenSkyCam/internal/transport"
)

// Opener turns a resolved source into a port.
type Opener func(src Source, cfg transport.Config) (transport.Port, error)

type Options struct {
	Transport transport.Config
	Protocol  protocol.Options
	Open      Opener
}

type session struct {
	id     uuid.UUID
	port   transport.Port
	driver *protocol.Driver
	opened time.Time
}

// Controller keeps one protocol session per device. A session is created
// and autobauded on first use and dropped after a protocol failure, so the
// next call starts from a fresh autobaud.
type Controller struct {
	opts     Options
	sessions map[string]*session
	mu       sync.Mutex
	logger   *zap.Logger
}

func NewController(opts Options, logger *zap.Logger) *Controller {
	if opts.Open == nil {
		opts.Open = OpenPort
	}
	return &Controller{
		opts:     opts,
		sessions: make(map[string]*session),
		logger:   logger,
	}
}

// OpenPort is the default Opener.
func OpenPort(src Source, cfg transport.Config) (transport.Port, error) {
	switch src.Kind {
	case SourceSerial, SourceNetwork:
		return transport.Open(src.Device, cfg)
	case SourceSimulator:
		return simcam.Parse(src.Device)
	default:
		return nil, fmt.Errorf("%s source %s has no camera port", src.Kind, src.Device)
	}
}

// Driver returns the ready driver for device, connecting if needed.
func (c *Controller) Driver(ctx context.Context, device string) (*protocol.Driver, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.sessions[device]; ok {
		return s.driver, nil
	}

	src, err := ResolveSource(device)
	if err != nil {
		return nil, err
	}

	port, err := c.opts.Open(src, c.opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}

	driver := protocol.NewDriver(port, c.opts.Protocol, c.logger.With(zap.String("device", device)))
	ok, err := driver.Autobaud(ctx)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("autobaud %s: %w", device, err)
	}
	if !ok {
		port.Close()
		return nil, fmt.Errorf("%s: %w", device, ErrNoCamera)
	}

	s := &session{
		id:     uuid.New(),
		port:   port,
		driver: driver,
		opened: time.Now(),
	}
	c.sessions[device] = s

	c.logger.Info("Camera session opened",
		zap.String("device", device),
		zap.String("source", src.Kind.String()),
		zap.String("session_id", s.id.String()),
		zap.Int("baud_rate", driver.BaudRate()))

	return driver, nil
}

// drop closes the session for device after a protocol failure.
func (c *Controller) drop(device string, cause error) {
	c.mu.Lock()
	s, ok := c.sessions[device]
	delete(c.sessions, device)
	c.mu.Unlock()

	if !ok {
		return
	}
	c.logger.Warn("Camera session dropped",
		zap.String("device", device),
		zap.String("session_id", s.id.String()),
		zap.Error(cause))
	s.driver.Close()
}

func (c *Controller) release(device string, err error) {
	if err != nil && protocol.IsProtocolError(err) {
		c.drop(device, err)
	}
}

// CaptureFromDevice takes one frame from a camera. The image carries the
// trigger time in UTC and the exposure actually sent.
func (c *Controller) CaptureFromDevice(ctx context.Context, device string, seconds float64, dark bool) (*Image, error) {
	driver, err := c.Driver(ctx, device)
	if err != nil {
		return nil, err
	}

	sent := math.Min(exposure.Round(seconds), protocol.MaxExposure)
	ts := time.Now().UTC()

	data, err := driver.CaptureFrame(ctx, sent, dark)
	if err != nil {
		c.release(device, err)
		return nil, err
	}

	return newImage(data, sent, dark, ts, device), nil
}

type fileMeta struct {
	Timestamp time.Time `yaml:"timestamp"`
	Exposure  float64   `yaml:"exposure"`
	Dark      bool      `yaml:"dark"`
}

// CaptureFromFile wraps a stored raw frame. Timestamp and exposure come from
// a YAML sidecar next to the file when one exists, otherwise from the
// arguments. A zero ts means now.
func (c *Controller) CaptureFromFile(path string, seconds float64, ts time.Time) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &SourceError{Path: path, Err: err}
	}
	if len(data) != protocol.FrameBytes {
		return nil, &SourceError{
			Path: path,
			Err:  fmt.Errorf("%w: %d bytes, want %d", ErrFrameSize, len(data), protocol.FrameBytes),
		}
	}

	if ts.IsZero() {
		ts = time.Now()
	}
	dark := false

	if meta, ok, err := readSidecar(path); err != nil {
		return nil, &SourceError{Path: path, Err: err}
	} else if ok {
		if !meta.Timestamp.IsZero() {
			ts = meta.Timestamp
		}
		if meta.Exposure > 0 {
			seconds = meta.Exposure
		}
		dark = meta.Dark
	}

	return newImage(data, exposure.Round(seconds), dark, ts, path), nil
}

func sidecarPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".yaml"
}

func readSidecar(path string) (fileMeta, bool, error) {
	var meta fileMeta
	raw, err := os.ReadFile(sidecarPath(path))
	if os.IsNotExist(err) {
		return meta, false, nil
	}
	if err != nil {
		return meta, false, err
	}
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return meta, false, fmt.Errorf("invalid sidecar: %w", err)
	}
	return meta, true, nil
}

// SaveImage writes the raw frame to path with a sidecar, so the file can be
// replayed as a camera source.
func SaveImage(path string, img *Image) error {
	raw, err := yaml.Marshal(fileMeta{
		Timestamp: img.Timestamp,
		Exposure:  img.Exposure,
		Dark:      img.Dark,
	})
	if err != nil {
		return fmt.Errorf("failed to encode sidecar: %w", err)
	}
	if err := os.WriteFile(path, img.Data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(sidecarPath(path), raw, 0o644)
}

// Capture dispatches on the resolved source kind.
func (c *Controller) Capture(ctx context.Context, device string, seconds float64, dark bool) (*Image, error) {
	src, err := ResolveSource(device)
	if err != nil {
		return nil, err
	}

	if src.Kind == SourceFile {
		img, err := c.CaptureFromFile(src.Device, seconds, time.Time{})
		if err != nil {
			return nil, err
		}
		img.Dark = img.Dark || dark
		return img, nil
	}
	return c.CaptureFromDevice(ctx, device, seconds, dark)
}

// Identify reads baud rate, serial number and firmware of the camera on
// device. File sources report a placeholder identity.
func (c *Controller) Identify(ctx context.Context, device string) (protocol.CameraInfo, error) {
	src, err := ResolveSource(device)
	if err != nil {
		return protocol.CameraInfo{}, err
	}
	if src.Kind == SourceFile {
		return protocol.CameraInfo{
			SerialNumber:    filepath.Base(device),
			FirmwareVersion: "replay",
		}, nil
	}

	driver, err := c.Driver(ctx, device)
	if err != nil {
		return protocol.CameraInfo{}, err
	}

	info, err := driver.Identify(ctx)
	c.release(device, err)
	return info, err
}

// Close shuts every open session down.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for device, s := range c.sessions {
		if err := s.driver.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", device, err)
		}
		delete(c.sessions, device)
	}
	return firstErr
}

// Do runs fn against the driver for device. A protocol failure drops the
// session like a failed capture does.
func (c *Controller) Do(ctx context.Context, device string, fn func(*protocol.Driver) error) error {
	driver, err := c.Driver(ctx, device)
	if err != nil {
		return err
	}
	err = fn(driver)
	c.release(device, err)
	return err
}

// SetHeater switches the dew heater. Replayed files have none.
func (c *Controller) SetHeater(ctx context.Context, device string, on bool) error {
	src, err := ResolveSource(device)
	if err != nil {
		return err
	}
	if src.Kind == SourceFile {
		return nil
	}
	return c.Do(ctx, device, func(d *protocol.Driver) error {
		return d.SetHeater(ctx, on)
	})
}
