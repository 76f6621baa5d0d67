// Package main runs the background reconciliation worker. It repairs users
// left without a personal organization.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/deevents/backend/config"
	"github.com/deevents/backend/internal/metrics"
	"github.com/deevents/backend/internal/organizations"
	"github.com/deevents/backend/pkg/database"
)

const reconcileBatch = 500

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(),
		database.PoolOptions{MaxConns: int32(cfg.Database.MaxConns)}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	m := metrics.New()
	orgSvc := organizations.NewService(database.NewTxRunner(pool), organizations.NewRepository(pool),
		m, logger, cfg.Platform.PhoneCountryCode)

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.Worker.MetricsPort, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		run(workerCtx, orgSvc, cfg.Worker.ReconcileInterval, logger)
	}()
	logger.Info("worker started", zap.Duration("interval", cfg.Worker.ReconcileInterval))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("reconcile pass did not finish before shutdown")
	}
	logger.Info("worker stopped")
}

func run(ctx context.Context, svc *organizations.Service, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := svc.ReconcilePersonalOrgs(ctx, reconcileBatch)
		if err != nil {
			logger.Error("reconcile personal organizations", zap.Error(err))
		} else if n > 0 {
			logger.Info("reconciled personal organizations", zap.Int("repaired", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
