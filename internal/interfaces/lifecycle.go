package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
	"github.com/KevinKickass/OpenSkyCam/internal/scheduler"
	"github.com/KevinKickass/OpenSkyCam/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State       string           `json:"state"`
	Scheduler   scheduler.Status `json:"scheduler"`
	LiveClients int              `json:"live_clients"`
}

// CameraController runs maintenance commands next to the scheduler.
type CameraController interface {
	Do(ctx context.Context, device string, fn func(*protocol.Driver) error) error
	SetHeater(ctx context.Context, device string, on bool) error
}

type LifecycleManager interface {
	Config() *config.Config
	Captures() storage.CaptureLog
	Cameras() CameraController
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
