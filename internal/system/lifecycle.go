package system

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/api/rest"
	"github.com/KevinKickass/OpenSkyCam/internal/api/websocket"
	"github.com/KevinKickass/OpenSkyCam/internal/auth"
	"github.com/KevinKickass/OpenSkyCam/internal/capture"
	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/ephemeris"
	"github.com/KevinKickass/OpenSkyCam/internal/health"
	"github.com/KevinKickass/OpenSkyCam/internal/interfaces"
	"github.com/KevinKickass/OpenSkyCam/internal/output"
	"github.com/KevinKickass/OpenSkyCam/internal/scheduler"
	"github.com/KevinKickass/OpenSkyCam/internal/storage"
)

const memoryLogSize = 500

// Components can be replaced before Start, mainly for tests.
type Components struct {
	Capturer  *capture.Controller
	Oracle    ephemeris.Oracle
	Processor output.Processor
}

// LifecycleManager wires the scheduler, the capture controller and the
// optional API servers, and owns their startup and shutdown order.
type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	controller *capture.Controller
	loop       *scheduler.Loop
	db         *storage.PostgresClient
	captures   storage.CaptureLog

	authService  *auth.AuthService
	wsHub        *websocket.Hub
	restServer   *rest.Server
	healthServer *health.Server

	hubCancel context.CancelFunc

	stateMu      sync.RWMutex
	currentState SystemState

	shutdownOnce sync.Once
}

func NewLifecycleManager(cfg *config.Config, comps Components, logger *zap.Logger) *LifecycleManager {
	if comps.Capturer == nil {
		comps.Capturer = capture.NewController(capture.OptionsFromConfig(cfg.Camera), logger)
	}
	if comps.Oracle == nil {
		comps.Oracle = ephemeris.SunriseOracle{
			Latitude:  cfg.Site.Latitude,
			Longitude: cfg.Site.Longitude,
			Elevation: cfg.Site.Elevation,
		}
	}
	if comps.Processor == nil {
		comps.Processor = output.NewFileWriter(cfg.Output.Directory, cfg.Site.Name, logger)
	}

	loop := scheduler.New(scheduler.Options{
		Interval:     cfg.Scheduler.Interval,
		DarkInterval: cfg.Scheduler.DarkInterval,
		Cameras:      cfg.Cameras,
	}, comps.Oracle, comps.Capturer, comps.Processor, logger.Named("scheduler"))

	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		controller:   comps.Capturer,
		loop:         loop,
		currentState: StateInitializing,
	}
}

// Start connects storage, identifies both cameras, starts the servers and
// finally the scheduler. Any error leaves the manager in StateError.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting all-sky camera controller",
		zap.String("site", lm.config.Site.Name),
		zap.String("day_camera", lm.config.Cameras.Day.Device),
		zap.String("night_camera", lm.config.Cameras.Night.Device))

	if err := lm.startStorage(ctx); err != nil {
		lm.setError(err)
		return err
	}
	lm.loop.AddObserver(storage.NewRecorder(lm.captures, lm.logger.Named("storage")))

	if err := lm.loop.Init(ctx); err != nil {
		err = fmt.Errorf("camera initialization failed: %w", err)
		lm.setError(err)
		return err
	}

	if lm.config.Server.Enabled {
		if err := lm.startServers(); err != nil {
			lm.setError(err)
			return err
		}
	}

	if err := lm.loop.Start(ctx); err != nil {
		lm.setError(err)
		return err
	}

	lm.setState(StateRunning, nil)

	lm.logger.Info("System started successfully",
		zap.Bool("server_enabled", lm.config.Server.Enabled),
		zap.Bool("database_enabled", lm.config.Database.Enabled),
		zap.Duration("interval", lm.config.Scheduler.Interval))

	return nil
}

func (lm *LifecycleManager) startStorage(ctx context.Context) error {
	if !lm.config.Database.Enabled {
		lm.captures = storage.NewMemoryLog(memoryLogSize)
		return nil
	}

	db, err := storage.NewPostgresClient(ctx, lm.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	lm.db = db
	lm.captures = db
	lm.logger.Info("Database connected successfully")
	return nil
}

func (lm *LifecycleManager) startServers() error {
	if !lm.config.Auth.IsProductionReady() {
		lm.logger.Warn("JWT secret is the development default or too short",
			zap.String("env", lm.config.Auth.JWTSecretEnv))
	}

	lm.authService = auth.NewAuthService(lm.config.Auth, lm.logger.Named("auth"))

	hubCtx, cancel := context.WithCancel(context.Background())
	lm.hubCancel = cancel
	lm.wsHub = websocket.NewHub(lm.logger.Named("websocket"), lm.authService)
	go lm.wsHub.Run(hubCtx)
	lm.loop.AddObserver(lm.wsHub)

	lm.healthServer = health.NewServer(lm.config.Server.GRPCPort,
		[]string{config.RoleDay, config.RoleNight}, lm.logger.Named("health"))
	if err := lm.healthServer.Start(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}
	lm.loop.AddObserver(lm.healthServer)

	lm.restServer = rest.NewServer(lm, lm.logger.Named("rest"), lm.wsHub, lm.authService)
	if err := lm.restServer.Start(); err != nil {
		return fmt.Errorf("failed to start REST API: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler first so no capture is cut off by a closed
// port, then the servers, then the camera sessions and storage.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		lm.setState(StateStopping, nil)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped, nil)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		lm.loop.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, scheduler still busy")
		return fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err())
	}

	var errs []error

	if lm.restServer != nil {
		if err := lm.restServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
	}
	if lm.healthServer != nil {
		lm.logger.Info("Stopping gRPC health server")
		lm.healthServer.Stop()
	}
	if lm.hubCancel != nil {
		lm.hubCancel()
	}

	if err := lm.controller.Close(); err != nil {
		errs = append(errs, fmt.Errorf("camera close failed: %w", err))
	}
	if lm.db != nil {
		lm.db.Close()
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) setState(state SystemState, cause error) {
	lm.stateMu.Lock()
	prev := lm.currentState
	if err := ValidateTransition(prev, state); err != nil {
		lm.stateMu.Unlock()
		lm.logger.Warn("Ignoring state change", zap.Error(err))
		return
	}
	lm.currentState = state
	lm.stateMu.Unlock()

	lm.logger.Info("System state changed",
		zap.String("from", prev.String()),
		zap.String("to", state.String()))

	if lm.wsHub != nil {
		change := StateChange{
			State:     state.String(),
			Previous:  prev.String(),
			Timestamp: time.Now().Unix(),
		}
		if cause != nil {
			change.Error = cause.Error()
		}
		lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, change))
	}
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.setState(StateError, err)
}

// State returns the current lifecycle state.
func (lm *LifecycleManager) State() SystemState {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	st := interfaces.SystemStatus{
		State:     lm.State().String(),
		Scheduler: lm.loop.Status(),
	}
	if lm.wsHub != nil {
		st.LiveClients = lm.wsHub.GetClientCount()
	}
	return st
}

// Config returns the configuration
func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

// Captures returns the capture log, PostgreSQL or in-memory.
func (lm *LifecycleManager) Captures() storage.CaptureLog {
	return lm.captures
}

// Cameras returns the controller shared with the scheduler.
func (lm *LifecycleManager) Cameras() interfaces.CameraController {
	return lm.controller
}

// Loop returns the scheduler.
func (lm *LifecycleManager) Loop() *scheduler.Loop {
	return lm.loop
}
