package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/orbitviz/internal/api"
	"github.com/star/orbitviz/internal/metrics"
	"github.com/star/orbitviz/internal/propagation"
	"github.com/star/orbitviz/internal/session"
	"github.com/star/orbitviz/internal/tle"
	"github.com/star/orbitviz/internal/tracing"
	"github.com/star/orbitviz/web"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	fc, err := loadFileConfig(os.Getenv("ORBITVIZ_CONFIG"), logger)
	if err != nil {
		logger.Error("invalid config file", "error", err)
		os.Exit(1)
	}
	level.Set(loadLogLevel(logger, fc))

	authCfg, err := loadAuthConfig(logger, fc)
	if err != nil {
		logger.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}
	serverCfg := loadServerConfig(logger, fc)
	tleCfg := loadTLEConfig(logger, fc)
	propCfg := loadPropConfig(logger, fc)
	sessionCfg := loadSessionConfig(logger, fc)
	streamCfg := loadStreamConfig(logger, fc)
	tracingCfg := loadTracingConfig(logger, fc)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracingCfg, logger)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		os.Exit(1)
	}

	// One-shot dataset load. A failure leaves the store empty; the page
	// learns about it from the API's 503.
	store := tle.NewStore()
	source := tle.NewSource(tleCfg.Source, tle.NewCache(tleCfg.CacheDir, tleCfg.MaxFiles), logger.With("component", "tle"))
	if ds, err := source.Load(ctx); err != nil {
		logger.Error("TLE file not loaded", "source", source.Location(), "error", err)
	} else {
		store.Set(ds)
		metrics.SetDatasetRecords(len(ds.Records))
	}

	prop := propagation.NewPropagator(propCfg, logger.With("component", "propagation"))
	sessions := session.NewManager(store, prop, sessionCfg, logger.With("component", "session"))
	go sessions.Run(ctx)

	// Background goroutine to update the dataset age gauge.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if age := store.AgeSeconds(); age >= 0 {
					metrics.SetDatasetAge(age)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	srv := api.NewServer(api.Config{
		Addr:       serverCfg.Addr,
		AssetDir:   serverCfg.AssetDir,
		TrustProxy: serverCfg.TrustProxy,
		Auth:       authCfg,
		Stream:     streamCfg,
	}, store, sessions, web.Content, logger)

	// Request contexts end with the signal so open streams do not hold up
	// shutdown.
	srv.HTTPServer().BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		logger.Info("starting server",
			"addr", serverCfg.Addr,
			"auth_enabled", authCfg.Enabled,
			"dataset_loaded", store.Ready(),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	sessions.Close()
	tracing.ShutdownWithTimeout(context.Background(), shutdownTracing, logger)

	logger.Info("server stopped")
}
