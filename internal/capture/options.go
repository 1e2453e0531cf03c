package capture

import (
	"github.com/KevinKickass/OpenSkyCam/internal/config"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
	"github.com/KevinKickass/OpenSkyCam/internal/transport"
)

// OptionsFromConfig maps the camera section onto controller options.
func OptionsFromConfig(cc config.CameraConfig) Options {
	return Options{
		Transport: transport.Config{
			ReadTimeout: cc.ReadTimeout,
			DialTimeout: cc.DialTimeout,
		},
		Protocol: protocol.Options{
			BaudRates:        cc.BaudRates,
			Retries:          cc.Retries,
			BlockRetries:     cc.BlockRetries,
			CommandTimeout:   cc.CommandTimeout,
			HandshakeTimeout: cc.HandshakeTimeout,
			ReadoutMargin:    cc.ReadoutMargin,
		},
	}
}
