package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenSkyCam/internal/storage"
	"github.com/KevinKickass/OpenSkyCam/internal/types"
)

const (
	defaultCaptureLimit = 20
	maxCaptureLimit     = 500
)

// GET /api/v1/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// GET /api/v1/captures?limit=n
func (s *Server) listCaptures(c *gin.Context) {
	limit := defaultCaptureLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("CAPTURE_400", "Invalid limit", raw))
			return
		}
		limit = min(n, maxCaptureLimit)
	}

	records, err := s.lm.Captures().ListCaptures(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("CAPTURE_500", "Failed to list captures", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"captures": records,
		"count":    len(records),
	})
}

// GET /api/v1/captures/latest
func (s *Server) latestCapture(c *gin.Context) {
	rec, err := s.lm.Captures().LatestCapture(c.Request.Context())
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("CAPTURE_404", "No captures yet", nil))
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("CAPTURE_500", "Failed to load capture", err.Error()))
		return
	}
	c.JSON(http.StatusOK, rec)
}
