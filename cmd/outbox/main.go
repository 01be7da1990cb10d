package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ascinocco/device-management/internal/clients"
	"github.com/Ascinocco/device-management/internal/config"
	"github.com/Ascinocco/device-management/internal/middleware"
	"github.com/Ascinocco/device-management/internal/outbox"
	"github.com/Ascinocco/device-management/internal/projection"
	"github.com/Ascinocco/device-management/internal/resilience"
	"github.com/Ascinocco/device-management/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
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

	logger.Info("starting event worker",
		zap.String("env", cfg.Environment),
		zap.Duration("poll_interval", cfg.GetPollInterval(logger)),
		zap.Int("batch_size", cfg.GetOutboxBatchSize(logger)))

	// 3. Connect to Database
	dbPool, err := pgxpool.New(context.Background(), cfg.GetDBSource())
	if err != nil {
		logger.Fatal("cannot connect to database", zap.Error(err))
	}
	defer dbPool.Close()
	logger.Info("connected to PostgreSQL", zap.String("status", "ok"))

	// 4. Outbound HTTP collaborators, each bounded by the configured
	// connect/overall timeouts (§5) and guarded by its own breaker.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: cfg.GetHTTPConnectTimeout(), KeepAlive: 30 * time.Second}).DialContext
	httpClient := &http.Client{Timeout: cfg.GetHTTPTimeout(), Transport: transport}
	tenancyClient := clients.NewTenancyClient(cfg.TenancyServiceURL, cfg.TenancyServiceToken, httpClient)
	emailClient := clients.NewEmailClient(cfg.ResendAPIKey, cfg.ResendFrom, httpClient)
	deviceServiceClient := clients.NewDeviceServiceClient(cfg.DeviceServiceURL, cfg.DeviceServiceToken, httpClient)

	tenancyBreaker := resilience.New[string]("tenancy-service", cfg.GetCBFailureThreshold(), cfg.GetCBRecoveryTimeout())
	emailBreaker := resilience.New[struct{}]("email-provider", cfg.GetCBFailureThreshold(), cfg.GetCBRecoveryTimeout())

	projector := projection.NewProjector(tenancyClient, tenancyBreaker)
	dispatcher := worker.NewDispatcher(projector, tenancyClient, emailClient, deviceServiceClient, tenancyBreaker, emailBreaker, logger)

	retryPolicy := resilience.NewRetryPolicy(cfg.GetRetryBaseDelay(), cfg.GetRetryMaxDelay(), cfg.GetRetryMaxAttempts())

	processorCfg := outbox.ProcessorConfig{
		PollInterval: cfg.GetPollInterval(logger),
		BatchSize:    cfg.GetOutboxBatchSize(logger),
	}
	processor := outbox.NewProcessor(dbPool, dispatcher, retryPolicy, logger, processorCfg)

	// 5. Supervise the poll loop and the metrics server together: if
	// either returns, shut the other down (mirrors the teacher's
	// channel-based supervision, generalized to errgroup for the
	// two-goroutine case).
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := newMetricsServer(cfg.GetMetricsPort())

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		processor.Start(gCtx)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting metrics server", zap.Int("port", cfg.GetMetricsPort()))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	logger.Info("event worker running")

	// 6. Graceful shutdown: finish the current batch, then exit (§5).
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	logger.Info("initiating graceful shutdown, waiting for current batch to complete...")

	cancel()
	processor.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Error("event worker exited with error", zap.Error(err))
	}
	logger.Info("event worker shutdown complete")
}

// newMetricsServer exposes Prometheus metrics and a liveness probe for
// the worker process.
func newMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
