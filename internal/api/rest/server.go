package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSkyCam/internal/api/websocket"
	"github.com/KevinKickass/OpenSkyCam/internal/auth"
	"github.com/KevinKickass/OpenSkyCam/internal/interfaces"
)

type Server struct {
	router      *gin.Engine
	lm          interfaces.LifecycleManager
	logger      *zap.Logger
	server      *http.Server
	wsHub       *websocket.Hub
	authService *auth.AuthService
}

func NewServer(lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authService *auth.AuthService) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router:      gin.New(),
		lm:          lm,
		logger:      logger,
		wsHub:       wsHub,
		authService: authService,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", lm.Config().Server.HTTPPort),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// Shutter and heater commands wait for the camera
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== AUTH (PUBLIC) ====================
		v1.POST("/auth/token", s.issueToken)

		// ==================== STATUS & CAPTURES (PUBLIC) ====================
		v1.GET("/status", s.getSystemStatus)
		v1.GET("/captures", s.listCaptures)
		v1.GET("/captures/latest", s.latestCapture)

		// ==================== CAMERA MAINTENANCE ====================
		cameras := v1.Group("/cameras/:role")
		cameras.Use(s.authService.AuthMiddleware())
		cameras.Use(auth.RequirePermission(auth.PermControl))
		{
			cameras.POST("/shutter", s.setShutter)
			cameras.POST("/heater", s.setHeater)
		}

		// ==================== WEBSOCKET (auth via first message) ====================
		v1.GET("/ws/live", s.wsLiveConnection)
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
