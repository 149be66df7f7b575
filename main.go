package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"monsterlab/config"
	"monsterlab/db"
	qhttp "monsterlab/http"
	"monsterlab/inference"
	"monsterlab/logging"
	"monsterlab/ml"
	"monsterlab/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("exiting", zap.Error(err))
	}
	logger.Info("exiting")
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewMetrics(reg)

	// 2. Initialize database
	store, err := db.Open(cfg.Database.Path, db.WithLogger(logger))
	if err != nil {
		return err
	}
	defer store.Close()

	// 3. Load the model, if one has been trained
	models, err := inference.New(nil,
		inference.WithLogger(logger),
		inference.WithMetrics(metrics),
		inference.WithCacheSize(cfg.Model.CacheSize))
	if err != nil {
		return err
	}
	if err := models.Reload(cfg.Model.Path); err != nil {
		if !errors.Is(err, ml.ErrIO) || !errors.Is(err, os.ErrNotExist) {
			return err
		}
		logger.Warn("no model artifact yet, predictions disabled until training",
			zap.String("path", cfg.Model.Path))
	}
	if cfg.Model.Watch {
		if err := os.MkdirAll(filepath.Dir(cfg.Model.Path), 0o755); err != nil {
			return err
		}
		watcher, err := models.Watch(ctx, cfg.Model.Path)
		if err != nil {
			return err
		}
		defer watcher.Close()
	}

	hub := monitoring.NewHub(logger.Named("ws"), metrics)
	go hub.Run(ctx)

	jobs, err := qhttp.NewTrainingJobs(qhttp.TrainingConfig{ModelPath: cfg.Model.Path},
		store, models, hub, metrics, logger.Named("training"))
	if err != nil {
		return err
	}
	defer jobs.Close()

	// 4. Start HTTP server
	serverConfig := qhttp.DefaultServerConfig()
	serverConfig.Port = cfg.Http.Port
	serverConfig.Timeout = cfg.Http.Timeout
	serverConfig.AllowedOrigins = cfg.Http.AllowedOrigins
	server := qhttp.NewServer(serverConfig, qhttp.Deps{
		Store:    store,
		Models:   models,
		Jobs:     jobs,
		Hub:      hub,
		Gatherer: reg,
		Logger:   logger.Named("http"),
	})
	logger.Info("serving", zap.String("addr", server.Addr()), zap.String("model", cfg.Model.Path))
	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
