// Package main serves the heart-risk analysis tools over MCP stdio.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/app"
	"github.com/heartrisk-server/internal/config"
	"github.com/heartrisk-server/internal/history"
	"github.com/heartrisk-server/internal/logging"
	"github.com/heartrisk-server/internal/mcp"
	"github.com/heartrisk-server/internal/reference"
	"github.com/heartrisk-server/internal/service"
	"github.com/heartrisk-server/internal/setup"
)

func main() {
	// Check for setup subcommand
	if len(os.Args) > 1 && os.Args[1] == "setup" {
		if err := setup.NewCLI(os.Stdout).Run(os.Args[2:]); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	configPath := flag.String("config", "", "path to the configuration file")
	withHistory := flag.Bool("history", true, "expose the list_history tool")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManagerFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logCfg := cfg.Logging
	// stdout carries the protocol
	if logCfg.Output == "" || logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ref, err := app.LoadReference(cfg.Reference, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load reference data")
	}

	var historyService *service.HistoryService
	if *withHistory {
		store, closeStore, err := app.OpenStore(ctx, cfg, configManager.GetDatabaseURL(), logger)
		if err != nil {
			logger.WithError(err).Warn("History store unavailable, list_history disabled")
		} else {
			defer closeStore()
			historyService = newHistoryService(store, ref, logger)
		}
	}

	server, err := mcp.NewServer(cfg.MCP, ref, historyService, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create MCP server")
	}

	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("MCP server stopped with error")
		return
	}
	logger.Info("MCP server stopped")
}

func newHistoryService(store history.Store, ref *reference.Reference, logger *logrus.Logger) *service.HistoryService {
	svc, err := service.NewHistoryService(store, ref, logger)
	if err != nil {
		logger.WithError(err).Warn("History service unavailable")
		return nil
	}
	return svc
}
