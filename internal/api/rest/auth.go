package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/KevinKickass/OpenSkyCam/internal/auth"
	"github.com/KevinKickass/OpenSkyCam/internal/types"
)

type TokenRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

// POST /api/v1/auth/token
func (s *Server) issueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("AUTH_400", "Invalid request body", err.Error()))
		return
	}

	token, expires, err := s.authService.Login(req.Username, req.Password, c.ClientIP())
	if err != nil {
		var locked *auth.ErrLocked
		switch {
		case errors.As(err, &locked):
			c.JSON(http.StatusTooManyRequests, types.NewErrorResponse("AUTH_429", "Account locked",
				gin.H{"locked_until": locked.Until}))
		case errors.Is(err, auth.ErrLoginDisabled):
			c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("AUTH_503", "Login disabled", nil))
		default:
			c.JSON(http.StatusUnauthorized, types.NewErrorResponse("AUTH_401", "Invalid credentials", nil))
		}
		return
	}

	c.JSON(http.StatusOK, TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expires).Seconds()),
	})
}
