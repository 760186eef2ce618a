// Package http provides the HTTP adapter for the workflow engine.
// This is a thin layer that translates HTTP requests to engine and service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/application/workflow"
	"github.com/garyjia/approval-engine/pkg/utils"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// HealthFunc reports overall health and a detail payload
type HealthFunc func(ctx context.Context) (bool, interface{})

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// Mode is the gin mode. Defaults to release.
	Mode string
	// MetricsPath is where Metrics is mounted
	MetricsPath string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		Mode:         gin.ReleaseMode,
		MetricsPath:  "/metrics",
	}
}

// Deps are the collaborators the HTTP adapter exposes
type Deps struct {
	Engine workflow.Engine
	Flows  service.FlowService
	// Admins guards flow administration. Nil leaves it open.
	Admins port.AdminAuthorizer
	Health HealthFunc
	// Metrics serves the Prometheus exposition. Nil disables the route.
	Metrics http.Handler
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Deps
	logger     Logger
}

// NewServer creates a new HTTP server
func NewServer(config ServerConfig, deps Deps, logger Logger) *Server {
	mode := config.Mode
	if mode == "" {
		mode = gin.ReleaseMode
	}
	gin.SetMode(mode)

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		deps:   deps,
		logger: logger,
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup routes
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.router.Use(gin.Recovery())

	// Logging middleware
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		// Process request
		c.Next()

		// Log request details
		latency := time.Since(start)
		status := c.Writer.Status()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.deps.Engine, s.deps.Flows, s.deps.Health, s.logger)

	// Health check
	s.router.GET("/health", handlers.HealthCheck)

	if s.deps.Metrics != nil {
		path := s.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.deps.Metrics))
	}

	api := s.router.Group("/api/v1")
	{
		api.POST("/escalations/sweep", handlers.Sweep)

		tenant := api.Group("/tenants/:tenant", validateTenant())

		// Instances
		instances := tenant.Group("/instances")
		instances.POST("", handlers.StartWorkflow)
		instances.GET("/:id", handlers.GetInstance)
		instances.POST("/:id/approve", handlers.Approve)
		instances.POST("/:id/reject", handlers.Reject)
		instances.POST("/:id/delegate", handlers.Delegate)
		instances.POST("/:id/skip", handlers.Skip)
		instances.POST("/:id/cancel", handlers.Cancel)
		instances.POST("/:id/assign", handlers.AssignApprovers)
		instances.POST("/:id/retry-routing", handlers.RetryRouting)

		// Flow definitions
		flows := tenant.Group("/flows")
		flows.GET("", handlers.ListFlows)
		flows.GET("/:id", handlers.GetFlow)

		admin := flows.Group("", s.requireAdmin())
		admin.POST("", handlers.CreateFlow)
		admin.PUT("/:id", handlers.UpdateFlow)
		admin.POST("/:id/duplicate", handlers.DuplicateFlow)
		admin.DELETE("/:id", handlers.DeactivateFlow)
	}
}

// validateTenant rejects malformed tenant path segments
func validateTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := utils.ValidateIdentifier("tenant", c.Param("tenant")); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
			return
		}
		c.Next()
	}
}

// requireAdmin rejects callers whose X-Actor-ID is not an administrator
func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Admins == nil {
			c.Next()
			return
		}

		actor := c.GetHeader(ActorHeader)
		ok, err := s.deps.Admins.IsAdmin(c.Request.Context(), c.Param("tenant"), actor)
		if err != nil {
			s.logger.Error("Admin check failed", "actor", actor, "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, Response{Success: false, Error: "admin check failed"})
			return
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, Response{Success: false, Error: "administrator required"})
			return
		}
		c.Next()
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	// Create shutdown context with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
