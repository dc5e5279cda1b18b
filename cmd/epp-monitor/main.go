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

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"epp-monitor/internal/auth"
	"epp-monitor/internal/config"
	"epp-monitor/internal/db"
	"epp-monitor/internal/feed"
	httphandler "epp-monitor/internal/http"
	"epp-monitor/internal/http/middleware"
	"epp-monitor/internal/logger"
	"epp-monitor/internal/metrics"
	"epp-monitor/internal/notify"
	"epp-monitor/internal/repository"
	"epp-monitor/internal/service"
	"epp-monitor/internal/snapshot"
	"epp-monitor/internal/storage"
	"epp-monitor/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feedClient, err := feed.NewClient(cfg.Feed.APIBase, feed.Endpoints{
		Feed:   cfg.Feed.Path,
		Days:   cfg.Feed.DaysPath,
		Frames: cfg.Feed.FramesPath,
	},
		feed.WithTimeout(cfg.Poll.Timeout),
		feed.WithEnvelopeKeys(cfg.Feed.EnvelopeKeys),
		feed.WithCacheBust(cfg.Feed.CacheBust),
	)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to create feed client")
	}

	pollMetrics := metrics.New(prometheus.DefaultRegisterer)

	var database *gorm.DB
	var history service.HistoryStore
	if cfg.HistoryEnabled() {
		database, err = db.New(cfg, appLogger)
		if err != nil {
			appLogger.Fatal().Err(err).Msg("failed to connect database")
		}
		history = repository.NewHistoryRepository(database)
	} else {
		appLogger.Warn().Msg("DB_DSN not set, daily history will be disabled")
	}

	// R2 is optional; report uploads are disabled without it.
	var uploader service.ReportUploader
	r2Client, err := storage.NewR2ClientFromEnv()
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		appLogger.Fatal().Err(err).Msg("failed to initialize R2 client")
	}
	if err != nil {
		appLogger.Warn().Msg("R2 storage not configured, report uploads will be disabled")
	} else {
		uploader = r2Client
	}

	sinks := buildSinks(ctx, cfg, appLogger)
	fanout := notify.NewFanout(appLogger, pollMetrics, sinks...)

	hub := stream.NewHub(appLogger)

	monitor, err := service.NewMonitorService(service.Deps{
		Feed:       feedClient,
		Publisher:  hub,
		Dispatcher: fanout,
		History:    history,
		Uploader:   uploader,
		Metrics:    pollMetrics,
		Recorder:   pollMetrics,
	}, service.Options{
		APIBase:       feedClient.BaseURL(),
		StripPrefixes: cfg.Feed.StripPrefixes,
		Snapshot: snapshot.Options{
			Location:      cfg.Snapshot.Location,
			TimelineLimit: cfg.Snapshot.TimelineLimit,
			RecentLimit:   cfg.Snapshot.RecentLimit,
			EnvelopeKeys:  cfg.Feed.EnvelopeKeys,
		},
		Interval:    cfg.Poll.Interval,
		Timeout:     cfg.Poll.Timeout,
		MaxInFlight: cfg.Poll.MaxInFlight,
		BackoffMax:  cfg.Poll.BackoffMax,
	}, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to create monitor")
	}

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	if !cfg.AuthEnabled() {
		appLogger.Warn().Msg("JWT_ACCESS_SECRET not set, reset and report upload endpoints will be disabled")
	}

	handler := httphandler.NewHandler(monitor, hub, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, httphandler.RouterDeps{
		Env:      cfg.Environment,
		Log:      appLogger,
		Database: database,
		Metrics:  pollMetrics,
	})

	monitor.Start(ctx)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().
		Str("addr", addr).
		Str("feed", cfg.Feed.APIBase+cfg.Feed.Path).
		Dur("poll_interval", cfg.Poll.Interval).
		Msg("starting EPP monitor")

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	appLogger.Info().Msg("shutting down server")

	hub.Close()
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}
	fanout.Close()

	appLogger.Info().Msg("server exited")
}
