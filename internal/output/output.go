// Package output receives finished captures. Image processing proper
// (debayer, overlay, encoding) lives outside this module; the FileWriter
// stores the raw frames with their metadata for it.
package output

import (
	"context"

	"github.com/KevinKickass/OpenSkyCam/internal/capture"
	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/ephemeris"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
)

// Handoff is everything one iteration produced.
type Handoff struct {
	Image     *capture.Image
	Dark      *capture.Image
	Ephemeris ephemeris.SunEphemeris
	Info      protocol.CameraInfo
	Device    config.DeviceConfig
	Role      string
	Nominal   float64
}

// Processor consumes a handoff and returns where the result went.
type Processor interface {
	Process(ctx context.Context, h Handoff) (string, error)
}
