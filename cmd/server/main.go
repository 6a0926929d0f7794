package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/heartrisk-server/internal/api"
	"github.com/heartrisk-server/internal/app"
	"github.com/heartrisk-server/internal/config"
	"github.com/heartrisk-server/internal/logging"
	"github.com/heartrisk-server/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManagerFromFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	// Setup graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ref, err := app.LoadReference(cfg.Reference, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load reference data")
	}

	store, closeStore, err := app.OpenStore(ctx, cfg, configManager.GetDatabaseURL(), logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open history store")
	}
	defer closeStore()

	predictor, closePredictor := app.NewPredictor(cfg, logger)
	defer closePredictor()

	assessments, err := service.NewAssessmentService(ref, predictor, store, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create assessment service")
	}
	historyService, err := service.NewHistoryService(store, ref, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create history service")
	}

	configManager.Watch(func(e fsnotify.Event, err error) {
		if err != nil {
			logger.WithError(err).WithField("file", e.Name).Error("Configuration reload rejected")
			return
		}
		logger.WithField("file", e.Name).Info("Configuration reloaded; restart to apply storage and prediction changes")
	})

	server := api.NewServer(configManager, assessments, historyService, logger)

	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"storage": cfg.Storage.Driver,
	}).Info("Starting heart-risk server")
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		closePredictor()
		closeStore()
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
