// Package scheduler drives the capture cycle: one iteration per interval,
// aligned to whole minutes, picking the day or night camera by the sun.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/capture"
	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/darkframe"
	"github.com/KevinKickass/OpenSkyCam/internal/ephemeris"
	"github.com/KevinKickass/OpenSkyCam/internal/exposure"
	"github.com/KevinKickass/OpenSkyCam/internal/output"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
)

// Capturer is the part of capture.Controller the loop needs.
type Capturer interface {
	Capture(ctx context.Context, device string, seconds float64, dark bool) (*capture.Image, error)
	Identify(ctx context.Context, device string) (protocol.CameraInfo, error)
}

// heaterSetter is implemented by capturers that can drive the dew heater.
type heaterSetter interface {
	SetHeater(ctx context.Context, device string, on bool) error
}

type Options struct {
	Interval     time.Duration
	DarkInterval time.Duration
	Cameras      config.CamerasConfig
}

// Camera is the per-role state owned by the loop.
type Camera struct {
	Role   string
	Config config.DeviceConfig
	Info   protocol.CameraInfo
	Darks  *darkframe.Cache
}

type Loop struct {
	opts      Options
	oracle    ephemeris.Oracle
	capturer  Capturer
	processor output.Processor
	logger    *zap.Logger

	cameras   map[string]*Camera
	observers []Observer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	next       time.Time
	iterations int
	last       map[string]Result
	lastResult *Result
	started    bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opts Options, oracle ephemeris.Oracle, capturer Capturer, processor output.Processor, logger *zap.Logger) *Loop {
	cameras := map[string]*Camera{
		config.RoleDay: {
			Role:   config.RoleDay,
			Config: opts.Cameras.Day,
			Darks:  darkframe.NewCache(opts.Cameras.Day.Dark),
		},
		config.RoleNight: {
			Role:   config.RoleNight,
			Config: opts.Cameras.Night,
			Darks:  darkframe.NewCache(opts.Cameras.Night.Dark),
		},
	}

	return &Loop{
		opts:      opts,
		oracle:    oracle,
		capturer:  capturer,
		processor: processor,
		logger:    logger,
		cameras:   cameras,
		now:       time.Now,
		sleep:     sleepContext,
		last:      make(map[string]Result),
	}
}

// AddObserver registers o for every finished iteration. Call before Run.
func (l *Loop) AddObserver(o Observer) {
	l.observers = append(l.observers, o)
}

// Camera returns the state for role.
func (l *Loop) Camera(role string) (*Camera, bool) {
	c, ok := l.cameras[role]
	return c, ok
}

// Init reads the identity of both cameras. Any failure is fatal for the
// process, there is no recovery for a camera absent at startup.
func (l *Loop) Init(ctx context.Context) error {
	for _, role := range []string{config.RoleDay, config.RoleNight} {
		cam := l.cameras[role]

		info, err := l.capturer.Identify(ctx, cam.Config.Device)
		if err != nil {
			return fmt.Errorf("%s camera %s: %w", role, cam.Config.Device, err)
		}
		cam.Info = info

		l.logger.Info("Camera identified",
			zap.String("role", role),
			zap.String("device", cam.Config.Device),
			zap.Int("baud_rate", info.BaudRate),
			zap.String("serial_number", info.SerialNumber),
			zap.String("firmware", info.FirmwareVersion))

		if hs, ok := l.capturer.(heaterSetter); ok {
			if err := hs.SetHeater(ctx, cam.Config.Device, cam.Config.Heating); err != nil {
				return fmt.Errorf("%s camera heater: %w", role, err)
			}
		}
	}
	return nil
}

// Start runs the loop in the background until Stop.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.started {
		return nil
	}
	l.started = true

	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.Run(ctx)
	}()

	l.logger.Info("Scheduler started", zap.Duration("interval", l.opts.Interval))
	return nil
}

// Stop cancels the background loop and waits for the running iteration.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return
	}
	cancel := l.cancel
	l.mu.Unlock()

	cancel()
	l.wg.Wait()

	l.mu.Lock()
	l.started = false
	l.mu.Unlock()

	l.logger.Info("Scheduler stopped")
}

// Run sleeps to each boundary and runs one iteration there until ctx is
// cancelled. Iteration errors never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	boundary := nextMinute(l.now())

	for {
		l.setNext(boundary)

		if err := l.sleep(ctx, boundary.Sub(l.now())); err != nil {
			return nil
		}

		l.RunOnce(ctx, boundary)
		if ctx.Err() != nil {
			return nil
		}

		boundary = NextBoundary(boundary, l.opts.Interval, l.now())
	}
}

// NextBoundary is prev + interval, or the next whole minute when the clock
// is already past that.
func NextBoundary(prev time.Time, interval time.Duration, now time.Time) time.Time {
	next := prev.Add(interval)
	if now.After(next) {
		return nextMinute(now)
	}
	return next
}

func nextMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute).Add(time.Minute)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunOnce executes a single iteration for boundary and reports it.
func (l *Loop) RunOnce(ctx context.Context, boundary time.Time) Result {
	res := Result{Boundary: boundary.UTC(), Started: l.now().UTC()}

	err := l.iterate(ctx, &res)
	res.Finished = l.now().UTC()
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		l.logger.Error("Capture iteration failed",
			zap.Time("boundary", res.Boundary),
			zap.String("role", res.Role),
			zap.String("device", res.Device),
			zap.Float64("exposure", res.Exposure),
			zap.Error(err))
	} else {
		l.logger.Info("Capture complete",
			zap.String("role", res.Role),
			zap.Float64("exposure", res.Exposure),
			zap.Bool("dark_applied", res.DarkApplied),
			zap.String("path", res.Path))
	}

	l.record(res)
	for _, o := range l.observers {
		o.IterationComplete(res)
	}
	return res
}

func (l *Loop) iterate(ctx context.Context, res *Result) error {
	now := l.now()

	eph, err := l.oracle.Compute(now)
	if err != nil {
		return fmt.Errorf("ephemeris: %w", err)
	}
	res.Sun = eph.State().String()

	role := config.RoleNight
	if eph.State() == ephemeris.Day {
		role = config.RoleDay
	}
	cam := l.cameras[role]
	res.Role = role
	res.Device = cam.Config.Device
	res.Nominal = cam.Config.Exposure

	compensated, err := exposure.Compensate(eph, cam.Config.Exposure)
	if err != nil {
		return fmt.Errorf("exposure: %w", err)
	}
	res.Exposure = compensated

	img, err := l.capturer.Capture(ctx, cam.Config.Device, compensated, false)
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	res.ImageID = img.ID.String()

	dark := l.darkFrame(ctx, cam, compensated, now, res)

	path, err := l.processor.Process(ctx, output.Handoff{
		Image:     img,
		Dark:      dark,
		Ephemeris: eph,
		Info:      cam.Info,
		Device:    cam.Config,
		Role:      role,
		Nominal:   cam.Config.Exposure,
	})
	if err != nil {
		return fmt.Errorf("output: %w", err)
	}
	res.Path = path
	return nil
}

// darkFrame refreshes the cache when due and returns the applicable frame.
// A failed refresh leaves no frame for this iteration, the stale one is
// not used.
func (l *Loop) darkFrame(ctx context.Context, cam *Camera, compensated float64, now time.Time, res *Result) *capture.Image {
	// Compensate always lands on the 100 µs grid, so compare against the
	// rounded nominal.
	nominal := exposure.Round(cam.Config.Exposure)
	if !cam.Darks.Enabled() || compensated != nominal {
		return nil
	}

	if cam.Darks.NeedsRefresh(now, l.opts.DarkInterval) {
		dark, err := l.capturer.Capture(ctx, cam.Config.Device, compensated, true)
		if err != nil {
			res.DarkError = err.Error()
			l.logger.Warn("Dark frame refresh failed",
				zap.String("device", cam.Config.Device),
				zap.Float64("exposure", compensated),
				zap.Error(err))
			return nil
		}
		cam.Darks.Refresh(dark)
		res.DarkRefreshed = true
	}

	img, ok := cam.Darks.ApplicableFor(compensated, nominal)
	res.DarkApplied = ok
	return img
}

func (l *Loop) setNext(t time.Time) {
	l.mu.Lock()
	l.next = t
	l.mu.Unlock()
}

func (l *Loop) record(res Result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.iterations++
	r := res
	l.lastResult = &r
	if res.Role != "" {
		l.last[res.Role] = res
	}
}
