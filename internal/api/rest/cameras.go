package rest

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/auth"
	"github.com/KevinKickass/OpenSkyCam/internal/protocol"
	"github.com/KevinKickass/OpenSkyCam/internal/types"
)

// cameraDevice resolves the :role parameter or writes a 404.
func (s *Server) cameraDevice(c *gin.Context) (string, bool) {
	role := c.Param("role")
	dev, ok := s.lm.Config().Cameras.Role(role)
	if !ok || dev.Device == "" {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("CAMERA_404", "Unknown camera role", role))
		return "", false
	}
	return dev.Device, true
}

// POST /api/v1/cameras/:role/shutter
func (s *Server) setShutter(c *gin.Context) {
	var req struct {
		State string `json:"state" binding:"required,oneof=open closed"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CAMERA_400", "Invalid request body", err.Error()))
		return
	}

	device, ok := s.cameraDevice(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	err := s.lm.Cameras().Do(ctx, device, func(d *protocol.Driver) error {
		if req.State == "open" {
			return d.OpenShutter(ctx)
		}
		return d.CloseShutter(ctx)
	})
	if err != nil {
		s.cameraError(c, "shutter", device, err)
		return
	}

	s.logger.Info("Shutter moved",
		zap.String("device", device),
		zap.String("state", req.State),
		zap.String("username", auth.Username(c)))

	c.JSON(http.StatusOK, gin.H{
		"role":    c.Param("role"),
		"shutter": req.State,
	})
}

// POST /api/v1/cameras/:role/heater
func (s *Server) setHeater(c *gin.Context) {
	var req struct {
		On *bool `json:"on" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CAMERA_400", "Invalid request body", err.Error()))
		return
	}

	device, ok := s.cameraDevice(c)
	if !ok {
		return
	}

	if err := s.lm.Cameras().SetHeater(c.Request.Context(), device, *req.On); err != nil {
		s.cameraError(c, "heater", device, err)
		return
	}

	s.logger.Info("Heater switched",
		zap.String("device", device),
		zap.Bool("on", *req.On),
		zap.String("username", auth.Username(c)))

	c.JSON(http.StatusOK, gin.H{
		"role":   c.Param("role"),
		"heater": *req.On,
	})
}

// cameraError maps line failures to 502 and everything else to 500.
func (s *Server) cameraError(c *gin.Context, op, device string, err error) {
	s.logger.Error("Camera command failed",
		zap.String("op", op),
		zap.String("device", device),
		zap.Error(err))

	var pe *protocol.ProtocolError
	switch {
	case errors.As(err, &pe):
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("CAMERA_502", "Camera did not respond", gin.H{
			"reason":   pe.Reason,
			"attempts": pe.Attempts,
		}))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		c.JSON(http.StatusGatewayTimeout, types.NewErrorResponse("CAMERA_504", "Camera command timed out", nil))
	default:
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("CAMERA_500", "Camera command failed", err.Error()))
	}
}
