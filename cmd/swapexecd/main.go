package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/dexlab/swapexec/internal/broadcast"
	"github.com/dexlab/swapexec/internal/config"
	"github.com/dexlab/swapexec/internal/database"
	"github.com/dexlab/swapexec/internal/dex"
	"github.com/dexlab/swapexec/internal/jobqueue"
	redisclient "github.com/dexlab/swapexec/internal/redis"
	"github.com/dexlab/swapexec/internal/router"
	"github.com/dexlab/swapexec/internal/server"
	"github.com/dexlab/swapexec/internal/store"
	"github.com/dexlab/swapexec/internal/worker"
	"github.com/dexlab/swapexec/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.NewPostgresDB(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime)
	if err != nil {
		zapLogger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := database.Migrate(db); err != nil {
		zapLogger.Fatal("failed to run migrations", zap.Error(err))
	}

	redisClient, err := redisclient.NewClient(cfg.Redis, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisClient.Close()

	orderStore := store.NewGormStore(db, zapLogger)
	bcast := broadcast.New(redisClient.Get(), orderStore, zapLogger)

	venues := dex.NewMockVenues(dex.Config{
		BasePrice:      decimal.NewFromFloat(cfg.Gateway.BasePrice),
		QuoteLatency:   cfg.Gateway.QuoteLatency,
		SwapLatencyMin: cfg.Gateway.SwapLatencyMin,
		SwapLatencyMax: cfg.Gateway.SwapLatencyMax,
		FailureRate:    cfg.Gateway.FailureRate,
	}, zapLogger)
	quoteRouter := router.New(venues, zapLogger)

	queue := jobqueue.New(jobqueue.Config{
		Name:        "orders",
		Concurrency: cfg.Queue.Concurrency,
		MaxAttempts: cfg.Queue.MaxAttempts,
		BackoffBase: cfg.Queue.BackoffBase,
		BackoffMax:  cfg.Queue.BackoffMax,
		RateLimit:   cfg.Queue.RateLimit,
		RateWindow:  cfg.Queue.RateWindow,
	}, redisClient.Get(), zapLogger)

	orderWorker := worker.New(orderStore, quoteRouter, bcast, zapLogger)
	queue.Process(orderWorker.Process)
	queue.OnFailure(orderWorker.HandleFailure)
	if err := queue.Start(); err != nil {
		zapLogger.Fatal("failed to start job queue", zap.Error(err))
	}

	srv := server.New(cfg.Server, orderStore, queue, bcast, zapLogger)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		zapLogger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			zapLogger.Error("http server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("http server shutdown failed", zap.Error(err))
	}
	if err := queue.Close(shutdownCtx); err != nil {
		zapLogger.Error("job queue shutdown failed", zap.Error(err))
	}

	zapLogger.Info("shutdown complete")
}
