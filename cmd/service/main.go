package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-etl/internal/client"
	"github.com/kjstillabower/weather-etl/internal/config"
	httphandler "github.com/kjstillabower/weather-etl/internal/http"
	"github.com/kjstillabower/weather-etl/internal/lifecycle"
	"github.com/kjstillabower/weather-etl/internal/observability"
	"github.com/kjstillabower/weather-etl/internal/pipeline"
	"github.com/kjstillabower/weather-etl/internal/scheduler"
	"github.com/kjstillabower/weather-etl/internal/store"
)

const opsShutdownTimeout = 5 * time.Second

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// connected is set once the connector succeeds; the health check reads it.
	var connected atomic.Pointer[sql.DB]
	var srv *http.Server
	if cfg.MetricsAddr != "" {
		healthConfig := &httphandler.HealthConfig{
			StartTime: time.Now(),
			DBPing: func(ctx context.Context) error {
				db := connected.Load()
				if db == nil {
					return errors.New("not connected")
				}
				return db.PingContext(ctx)
			},
		}
		var limiter *rate.Limiter
		if cfg.MetricsRateLimit > 0 {
			limiter = rate.NewLimiter(rate.Limit(cfg.MetricsRateLimit), cfg.MetricsRateBurst)
		}
		router := httphandler.NewRouter(httphandler.NewHandler(healthConfig, logger), logger, limiter)
		srv = httphandler.NewServer(cfg.MetricsAddr, router)
		go func() {
			logger.Info("ops server starting", zap.String("addr", cfg.MetricsAddr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatal("ops server", zap.Error(err))
			}
		}()
	}

	connector := store.NewConnector(func(ctx context.Context) (*sql.DB, error) {
		return store.Open(ctx, store.Options{
			Driver:      cfg.DBDriver,
			DSN:         cfg.DatabaseURL(),
			PingTimeout: cfg.ConnectTimeout,
		})
	}, cfg.ConnectBackoff, cfg.ConnectMaxAttempts, logger)

	db, err := connector.Acquire(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			shutdown(logger, srv)
			return
		}
		logger.Fatal("database", zap.Error(err))
	}
	defer db.Close()
	connected.Store(db)

	if err := store.EnsureSchema(ctx, db); err != nil {
		logger.Fatal("schema", zap.Error(err))
	}
	logger.Info("table initialized", zap.String("table", store.TableName))

	weatherClient, err := client.NewOpenMeteoClient(
		cfg.WeatherAPIURL,
		cfg.Latitude,
		cfg.Longitude,
		cfg.WeatherTimezone,
		cfg.WeatherAPITimeout,
	)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}

	runner := pipeline.NewRunner(weatherClient, store.NewRepository(db, cfg.DBDriver), logger)

	var sched scheduler.Scheduler
	if cfg.ScheduleCron != "" {
		cron, err := scheduler.NewCron(cfg.ScheduleCron, logger)
		if err != nil {
			logger.Fatal("scheduler", zap.Error(err))
		}
		sched = cron
		logger.Info("scheduler: cron", zap.String("schedule", cfg.ScheduleCron))
	} else {
		sched = scheduler.NewLoop(cfg.CycleInterval, logger)
		logger.Info("scheduler: fixed interval", zap.Duration("interval", cfg.CycleInterval))
	}

	err = sched.Run(ctx, func(ctx context.Context) { runner.RunCycle(ctx) })
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped", zap.Error(err))
	}
	shutdown(logger, srv)
}

func shutdown(logger *zap.Logger, srv *http.Server) {
	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("ops server shutdown", zap.Error(err))
		}
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
