// Package api provides the HTTP API server for Cartograph.
// It uses Echo framework to serve REST endpoints and a WebSocket status
// stream for real-time architecture map monitoring.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/cartograph-io/cartograph/internal/auth"
	"github.com/cartograph-io/cartograph/internal/config"
	"github.com/cartograph-io/cartograph/internal/ingest"
	"github.com/cartograph-io/cartograph/internal/orchestration"
	"github.com/cartograph-io/cartograph/internal/runtime"
	"github.com/cartograph-io/cartograph/internal/snapshot"
	"github.com/cartograph-io/cartograph/internal/storage"
	"github.com/cartograph-io/cartograph/internal/validation"
	"github.com/cartograph-io/cartograph/internal/version"
)

// Deps bundles the services the HTTP layer exposes. All of them are
// constructed by the server command; the API layer owns no domain logic.
type Deps struct {
	Config       *config.Config
	Storage      *storage.Storage
	Registry     *runtime.Registry
	Orchestrator *orchestration.Orchestrator
	Agents       *orchestration.AgentRegistry
	Transport    *orchestration.PollTransport
	Feed         *ingest.Feed
	Snapshots    *snapshot.Service
}

// Server represents the Cartograph API server.
type Server struct {
	echo       *echo.Echo
	deps       Deps
	config     *config.Config
	validator  *validation.Validator
	jwtService *auth.JWTService
	authMiddle *auth.Middleware
}

// debugLog logs a message only if debug mode is enabled in config
func (s *Server) debugLog(format string, args ...interface{}) {
	if s.config.Server.Debug {
		log.Printf(format, args...)
	}
}

// New creates a new API server instance.
func New(deps Deps) *Server {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true
	e.Debug = deps.Config.Server.Debug

	e.HTTPErrorHandler = HTTPErrorHandler

	server := &Server{
		echo:       e,
		deps:       deps,
		config:     deps.Config,
		validator:  validation.New(),
		jwtService: auth.NewJWTService(deps.Config),
		authMiddle: auth.NewMiddleware(deps.Config),
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures Echo middleware.
func (s *Server) setupMiddleware() {
	// Logger middleware
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	// Recover middleware
	s.echo.Use(middleware.Recover())

	// Security headers middleware
	s.echo.Use(SecurityHeaders)

	// CORS middleware
	if len(s.config.Security.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.config.Security.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
		}))
	}

	// Request ID middleware
	s.echo.Use(middleware.RequestID())

	// Rate limiting
	if s.config.Security.RateLimit > 0 {
		s.echo.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(s.config.Security.RateLimit),
		)))
	}

	// Content-Type validation middleware for API routes
	s.echo.Use(ValidateContentType)
}

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	// Health check
	s.echo.GET("/health", s.healthCheck)
	s.echo.GET("/", s.healthCheck)

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	// Map routes
	maps := v1.Group("/maps")
	maps.GET("", s.listMaps, s.authMiddle.RequireRead)
	maps.GET("/:mapId/components", s.listComponents, s.authMiddle.RequireRead)
	maps.GET("/:mapId/status", s.getMapStatus, s.authMiddle.RequireRead)
	maps.GET("/:mapId/definition", s.exportDefinition, s.authMiddle.RequireRead)
	maps.PUT("/:mapId/definition", s.importDefinition, s.authMiddle.RequireOperator)
	maps.POST("/:mapId/diff", s.diffDefinition, s.authMiddle.RequireRead)
	maps.POST("/:mapId/snapshots", s.captureSnapshot, s.authMiddle.RequireOperator)
	maps.GET("/:mapId/snapshots", s.listSnapshots, s.authMiddle.RequireRead)
	maps.GET("/:mapId/stream", s.streamStatus, s.authMiddle.RequireRead)

	// Component routes
	components := v1.Group("/components")
	components.POST("", s.createComponent, s.authMiddle.RequireOperator)
	components.GET("/:id", s.getComponent, s.authMiddle.RequireRead)
	components.PUT("/:id", s.updateComponent, s.authMiddle.RequireOperator)
	components.DELETE("/:id", s.deleteComponent, s.authMiddle.RequireOperator)
	components.GET("/:id/state", s.getComponentState, s.authMiddle.RequireRead)
	components.PUT("/:id/override", s.setOverride, s.authMiddle.RequireOperator)
	components.DELETE("/:id/override", s.clearOverride, s.authMiddle.RequireOperator)
	components.POST("/:id/actions/:action", s.invokeAction, s.authMiddle.RequireOperator)
	components.GET("/:id/commands", s.listCommands, s.authMiddle.RequireRead)

	// Command routes
	commands := v1.Group("/commands")
	commands.GET("/:id", s.getCommand, s.authMiddle.RequireRead)
	commands.POST("/:id/cancel", s.cancelCommand, s.authMiddle.RequireOperator)

	// Agent routes: registration, report ingestion, dispatch polling
	agents := v1.Group("/agents")
	agents.GET("", s.listAgents, s.authMiddle.RequireRead)
	agents.POST("/register", s.registerAgent, s.authMiddle.RequireAgent)
	agents.POST("/:id/reports/checks", s.reportChecks, s.authMiddle.RequireAgent)
	agents.POST("/:id/reports/acks", s.reportAcks, s.authMiddle.RequireAgent)
	agents.GET("/:id/dispatches", s.pollDispatches, s.authMiddle.RequireAgent)

	// Snapshot routes
	snapshots := v1.Group("/snapshots")
	snapshots.GET("/:id", s.getSnapshot, s.authMiddle.RequireRead)

	// Validation routes
	validate := v1.Group("/validate")
	validate.POST("/component", s.validateComponent, s.authMiddle.RequireRead)

	// Authentication routes
	authRoutes := v1.Group("/auth")
	authRoutes.POST("/login", s.login)
	authRoutes.GET("/me", s.me, s.authMiddle.RequireAuth)

	// User management routes
	users := v1.Group("/users")
	users.POST("", s.createUser, s.authMiddle.RequireAdmin)
	users.GET("", s.listUsers, s.authMiddle.RequireAdmin)
	users.PUT("/:username/enabled", s.setUserEnabled, s.authMiddle.RequireAdmin)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	log.Printf("Starting Cartograph API server on http://%s (database: %s, debug: %v)",
		addr, s.config.Database.Path, s.config.Server.Debug)

	// Configure server timeouts
	s.echo.Server.ReadTimeout = s.config.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.config.Server.WriteTimeout

	if s.config.Server.TLSEnabled {
		return s.echo.StartTLS(addr, s.config.Server.TLSCert, s.config.Server.TLSKey)
	}

	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP listener. The owning command is
// responsible for draining the registry and closing storage afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	return nil
}

// healthCheck handles health check requests.
func (s *Server) healthCheck(c echo.Context) error {
	if err := s.deps.Storage.DB().PingContext(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "unhealthy",
			"error":   "database connection failed",
			"details": err.Error(),
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "cartograph",
		"version": version.Version,
	})
}

// ServeHTTP allows Server to implement http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
