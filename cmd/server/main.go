package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ascinocco/device-management/internal/api"
	"github.com/Ascinocco/device-management/internal/config"
	"github.com/Ascinocco/device-management/internal/device"
	"github.com/Ascinocco/device-management/internal/middleware"
	"github.com/Ascinocco/device-management/internal/outbox"
	"github.com/Ascinocco/device-management/internal/projection"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	// 1. Load Config
	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Printf("cannot load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	middleware.InitLogger()
	logger := middleware.Logger
	defer func() { _ = logger.Sync() }()

	logger.Info("starting device command service", zap.String("env", cfg.Environment))

	// 3. Connect to Database with pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.GetDBSource())
	if err != nil {
		logger.Fatal("cannot parse db config", zap.Error(err))
	}
	poolConfig.MaxConns = cfg.GetDBMaxConns()
	poolConfig.MinConns = cfg.GetDBMinConns()
	poolConfig.MaxConnLifetime = cfg.GetDBMaxConnLifetime()
	poolConfig.MaxConnIdleTime = cfg.GetDBMaxConnIdleTime()

	logger.Info("database pool config",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
		zap.Duration("max_conn_lifetime", poolConfig.MaxConnLifetime),
		zap.Duration("max_conn_idle_time", poolConfig.MaxConnIdleTime))

	dbPool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Fatal("cannot connect to db", zap.Error(err))
	}
	defer dbPool.Close()

	// 4. Wire the device application service + read-model queries
	deviceRepo := device.NewRepository()
	outboxRepo := outbox.NewRepository()
	deviceService := device.NewService(dbPool, deviceRepo, outboxRepo)
	readRepo := projection.NewReadRepository()

	handlers := api.NewHandlers(deviceService, dbPool, readRepo)
	middleware.InitMetrics()
	router := api.NewRouter(handlers, cfg.InternalToken)

	httpServer := &http.Server{
		Addr:              cfg.HTTPServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("command service listening", zap.String("address", cfg.HTTPServerAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// 5. Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		logger.Error("failed to shutdown HTTP server", zap.Error(err))
	} else {
		logger.Info("command service stopped")
	}
}
