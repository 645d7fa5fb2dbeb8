package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/domain"
	"github.com/health-risk-engine/internal/history"
	"github.com/health-risk-engine/internal/metrics"
	"github.com/health-risk-engine/internal/middleware"
	"github.com/health-risk-engine/internal/service"
	"github.com/health-risk-engine/pkg/riskmodel"
)

// RiskEngine is the service surface the HTTP handlers depend on.
type RiskEngine interface {
	Explain(ctx context.Context, patientID string, overrides map[string]float64) (*service.ExplainResult, error)
	Simulate(ctx context.Context, patientID string, params service.SimulationParams) (*service.SimulationResult, error)
	GlobalImportance() map[riskmodel.Condition][]riskmodel.GlobalImportanceEntry
	History(ctx context.Context, patientID string, limit int) ([]*history.Record, error)
}

// HealthFunc reports whether a backing dependency is reachable.
type HealthFunc func(ctx context.Context) error

// Dependencies are the collaborators wired into the HTTP server.
type Dependencies struct {
	Engine    RiskEngine
	Authority *middleware.TokenAuthority
	Metrics   *metrics.Metrics
	Health    HealthFunc
	Logger    *logrus.Logger
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.AuditLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	router.Use(requestMetrics(deps.Metrics))
	if cfg.Server.RequestTimeout > 0 {
		router.Use(middleware.RequestTimeout(cfg.Server.RequestTimeout))
	}

	server := &Server{
		configManager: configManager,
		deps:          deps,
		router:        router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.TLSEnabled {
			err = s.server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	s.deps.Logger.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	cfg := s.configManager.GetConfig()

	// Health check endpoint
	s.router.GET("/health", s.handleHealth)

	if s.deps.Metrics != nil && cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.deps.Metrics.Handler()))
	}

	// API v1 routes
	v1 := s.router.Group("/api/v1")
	v1.Use(middleware.BearerAuth(s.deps.Authority))
	{
		risk := v1.Group("/risk")
		risk.GET("/explain", s.handleExplain)
		risk.POST("/explain", s.handleExplain)
		risk.GET("/simulate", s.handleSimulate)
		risk.GET("/global-importance", s.handleGlobalImportance)
		risk.GET("/history", s.handleHistory)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	body := gin.H{
		"timestamp": time.Now(),
		"version":   s.configManager.GetConfig().MCP.ServerVersion,
	}

	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request.Context()); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
			body["error"] = err.Error()
		}
	}

	body["status"] = status
	c.JSON(code, body)
}

// corsMiddleware adds CORS headers for the configured origins. A "*" entry
// allows any origin without credentials.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	wildcard := false
	for _, o := range allowed {
		if o == "*" {
			wildcard = true
		}
		origins[o] = true
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origin == "":
		case wildcard:
			c.Header("Access-Control-Allow-Origin", "*")
		case origins[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Vary", "Origin")
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Correlation-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Correlation-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestMetrics counts requests by route template and status.
func requestMetrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
