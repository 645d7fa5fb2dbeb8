// Package main provides the standalone MCP entry point of the health risk
// engine. It requires no external databases: history is kept in SQLite and
// narratives are cached in memory.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/health-risk-engine/internal/config"
	"github.com/health-risk-engine/internal/mcp"
	"github.com/health-risk-engine/internal/setup"
)

func main() {
	// Load lightweight configuration
	cfg := config.LoadLiteConfig()

	// Stdout carries the protocol, so logs go to stderr.
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		cli := setup.NewMCPCLI(cfg)
		if err := cli.Run(ctx, os.Args[2:]); err != nil {
			logger.Fatalf("Setup failed: %v", err)
		}
		return
	}

	server, err := mcp.NewServer(cfg)
	if err != nil {
		logger.Fatalf("Failed to create MCP server: %v", err)
	}
	defer server.Close()

	if err := server.Start(ctx); err != nil {
		logger.Errorf("MCP server failed: %v", err)
		return
	}

	logger.WithFields(logrus.Fields{
		"narrative_cache": server.CacheStats(),
	}).Info("Health risk MCP server stopped")
}
