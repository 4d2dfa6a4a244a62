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

	"vin-service/internal/auth"
	"vin-service/internal/config"
	"vin-service/internal/db"
	httphandler "vin-service/internal/http"
	"vin-service/internal/http/middleware"
	"vin-service/internal/logger"
	"vin-service/internal/repository"
	"vin-service/internal/service"
	"vin-service/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	vinRepo := repository.NewVINRepository(database)

	// R2 опционален: без него загрузка фото отвечает 503
	var snapshots service.SnapshotStore
	r2Client, err := storage.NewR2Client(cfg.R2)
	switch {
	case err == nil:
		snapshots = r2Client
	case errors.Is(err, storage.ErrNotConfigured):
		appLogger.Warn().Msg("R2 storage not configured, snapshot uploads will be disabled")
	default:
		appLogger.Fatal().Err(err).Msg("failed to initialize R2 client")
	}

	vinService := service.NewVINService(vinRepo, snapshots, appLogger)

	retentionCtx, stopRetention := context.WithCancel(context.Background())
	defer stopRetention()
	if cfg.Retention.ScanDays > 0 {
		go vinService.RunRetention(retentionCtx, cfg.Retention.ScanDays, cfg.Retention.Interval)
	}

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(vinService, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting VIN service")

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")
	stopRetention()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info().Msg("server exited")
}
