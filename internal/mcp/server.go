// Package mcp exposes the risk engine as Model Context Protocol tools. The
// server needs no external database: history lives in SQLite and narratives
// are cached in process.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/cache"
	"github.com/health-risk-engine/internal/config"
	"github.com/health-risk-engine/internal/history"
	"github.com/health-risk-engine/pkg/external"
	"github.com/health-risk-engine/pkg/riskmodel"
	"github.com/health-risk-engine/pkg/simulation"
)

const (
	serverName    = "health-risk-engine"
	serverVersion = "v1.0.0"
)

// Server is the standalone MCP server.
type Server struct {
	config    *config.LiteConfig
	mcpServer *mcp.Server
	model     *riskmodel.ModelConfig
	narrator  *external.NarrativeService
	cache     *cache.NarrativeLRU
	history   history.Store
	catalog   []simulation.Intervention
	logger    *logrus.Logger
}

// ServerOption is a functional option for Server.
type ServerOption func(*Server) error

// WithHistoryStore sets a custom history store.
func WithHistoryStore(store history.Store) ServerOption {
	return func(s *Server) error {
		s.history = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) ServerOption {
	return func(s *Server) error {
		s.logger = logger
		return nil
	}
}

// WithTextGenerator replaces the HTTP text generator, mainly for tests.
func WithTextGenerator(generator external.TextGenerator) ServerOption {
	return func(s *Server) error {
		s.narrator = external.NewNarrativeService(generator, s.cache, external.NarrativeOptions{
			Model:    s.config.NarrativeModel,
			Timeout:  s.config.NarrativeTimeout,
			CacheTTL: s.config.CacheTTL,
			Logger:   s.logger,
		})
		return nil
	}
}

// NewServer creates a new MCP server instance.
func NewServer(cfg *config.LiteConfig, opts ...ServerOption) (*Server, error) {
	server := &Server{
		config:  cfg,
		catalog: simulation.DefaultInterventions(),
		logger:  logrus.New(),
	}

	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	mode, err := riskmodel.ParseWaterfallMode(cfg.WaterfallMode)
	if err != nil {
		return nil, err
	}
	server.model = riskmodel.DefaultModelConfig().WithWaterfallMode(mode)

	narrativeCache, err := cache.NewNarrativeLRU(cfg.CacheMaxItems, cfg.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create narrative cache: %w", err)
	}
	server.cache = narrativeCache

	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if server.narrator == nil {
		server.narrator = server.defaultNarrator()
	}

	if server.history == nil {
		if err := cfg.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := history.NewSQLiteStore(cfg.HistoryDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create history store: %w", err)
		}
		server.history = store
	}

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.registerTools()

	server.logger.Info("MCP server initialized successfully")
	return server, nil
}

// defaultNarrator wires the optional text-generation endpoint behind a
// circuit breaker. Without an endpoint every narrative is the template.
func (s *Server) defaultNarrator() *external.NarrativeService {
	var generator external.TextGenerator
	if s.config.NarrativeURL != "" {
		client := external.NewTextGenClient(external.TextGenConfig{
			BaseURL: s.config.NarrativeURL,
			APIKey:  s.config.NarrativeAPIKey,
			Model:   s.config.NarrativeModel,
			Timeout: s.config.NarrativeTimeout,
		})
		generator = external.NewResilientTextGenerator(client, external.CircuitBreakerConfig{}, s.logger)
	}
	return external.NewNarrativeService(generator, s.cache, external.NarrativeOptions{
		Model:    s.config.NarrativeModel,
		Timeout:  s.config.NarrativeTimeout,
		CacheTTL: s.config.CacheTTL,
		Logger:   s.logger,
	})
}

// Start runs the server over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("data_dir", s.config.DataDir).Info("Starting health risk MCP server on stdio")

	if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("MCP server failed: %w", err)
	}
	return nil
}

// Close cleans up server resources.
func (s *Server) Close() error {
	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close history store")
			return err
		}
	}
	return nil
}

// CacheStats reports narrative cache usage.
func (s *Server) CacheStats() cache.Stats {
	return s.cache.Stats()
}
