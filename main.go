package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mansingh-04/prooback/config"
	"github.com/mansingh-04/prooback/db"
	"github.com/mansingh-04/prooback/fetch"
	qhttp "github.com/mansingh-04/prooback/http"
	"github.com/mansingh-04/prooback/logging"
	"github.com/mansingh-04/prooback/ml"
	"github.com/mansingh-04/prooback/monitoring"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 2. Initialize database
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Fatal("failed to create database dir", zap.Error(err))
	}
	if err := db.InitDB(cfg.Database.Path); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Scoring engine
	metrics := monitoring.NewMetrics()
	engine, err := ml.NewEngine(ml.EngineConfig{
		ModelPath: cfg.Model.Path,
		CacheSize: cfg.Model.CacheSize,
		Train: ml.TrainConfig{
			LearningRate: cfg.Model.LearningRate,
			MaxStep:      cfg.Model.MaxStep,
		},
	}, logger.Named("ml"))
	if err != nil {
		logger.Fatal("failed to create scoring engine", zap.Error(err))
	}
	engine.Store().SetBootstrapHook(metrics.ObserveBootstrap)
	engine.Subscribe(metrics.ModelListener())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := monitoring.NewPerformanceTracker(monitoring.DefaultPerformanceWindow)
	engine.Subscribe(tracker.ResetListener())

	hub := monitoring.NewWebSocketHub(logger.Named("ws"), metrics, engine.Model)
	engine.Subscribe(hub.Listener())
	go hub.Run(ctx)

	if cfg.Model.ResetOnStart {
		if err := engine.TrainDummyModel(); err != nil {
			logger.Fatal("failed to write baseline model", zap.Error(err))
		}
	}
	model := engine.Model()
	metrics.ObserveModel(model)
	logger.Info("model ready",
		zap.String("path", cfg.Model.Path),
		zap.Int64("version", model.Version),
		zap.Int64("examples", model.ExampleCount))

	if cfg.Model.Watch {
		go func() {
			if err := engine.Store().Watch(ctx); err != nil {
				logger.Warn("model watcher stopped", zap.Error(err))
			}
		}()
	}

	// 4. Start HTTP server
	qhttp.SetLogger(logger.Named("http"))
	qhttp.SetEngine(engine)
	qhttp.SetFetcher(fetch.New(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes, cfg.Fetch.UserAgent))
	qhttp.SetMetrics(metrics)
	qhttp.SetWebSocketHub(hub)
	qhttp.SetPerformanceTracker(tracker)

	serverCfg := qhttp.ServerConfig{
		Port:           cfg.Server.Port,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if cfg.RateLimit.Enabled {
		serverCfg.RateLimit = cfg.RateLimit.RequestsPerSecond
		serverCfg.RateBurst = cfg.RateLimit.Burst
	}
	server := qhttp.NewServer(serverCfg)
	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 5. Handle graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	cancel()

	logger.Info("exiting")
}
