// Package main is the entry point for the masterdata BFF server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/pitabwire/masterdata/internal/config"
	"github.com/pitabwire/masterdata/internal/export"
	"github.com/pitabwire/masterdata/internal/form"
	"github.com/pitabwire/masterdata/internal/lookup"
	"github.com/pitabwire/masterdata/internal/observability"
	"github.com/pitabwire/masterdata/internal/openapi"
	"github.com/pitabwire/masterdata/internal/provider"
	"github.com/pitabwire/masterdata/internal/session"
	"github.com/pitabwire/masterdata/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "masterdata-bff", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.InitMetrics(registry)

	api, err := openapi.Load()
	if err != nil {
		logger.Error("OpenAPI document failed to load", zap.Error(err))
		return 1
	}

	backend, err := provider.New(cfg.Backend,
		provider.WithMetrics(metrics),
		provider.WithLogger(logger.Named("backend")),
	)
	if err != nil {
		logger.Error("records backend initialization failed", zap.Error(err))
		return 1
	}

	cache, closeCache, err := lookup.NewCache(ctx, cfg.Lookup)
	if err != nil {
		logger.Error("lookup cache initialization failed", zap.Error(err))
		return 1
	}
	options := lookup.NewCachingProvider(backend, cache, cfg.Lookup.Cache.TTL, metrics, logger)

	store, closeStore, err := session.OpenStore(ctx, cfg.Sessions.Store, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		_ = closeCache()
		return 1
	}

	sessions := session.NewManager(backend, cfg.List, cfg.Sessions, store, metrics, logger.Named("views"))
	materializer := form.NewMaterializer(options, cfg.Form.Locale, metrics, logger)

	readiness := observability.ReadinessChecks{"backend": backend}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness["session_store"] = hc
	}
	if hc, ok := cache.(observability.HealthChecker); ok {
		readiness["lookup_cache"] = hc
	}

	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.Enabled {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		authenticate = transport.JWTAuthenticator(cfg.Identity, jwks)
	} else {
		logger.Warn("identity verification disabled, accepting anonymous callers")
	}

	deps := transport.Dependencies{
		Config:       cfg,
		Authenticate: authenticate,
		Provider:     backend,
		Sessions:     sessions,
		Forms:        form.NewController(backend, materializer, metrics, logger),
		Exports:      export.NewRunner(backend, metrics, logger),
		API:          api,
		Metrics:      metrics,
		Readiness:    readiness,
		Logger:       logger,
	}
	if cfg.Observability.Metrics.Enabled {
		deps.MetricsHandler = observability.Handler(registry)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           transport.NewRouter(deps),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go sessions.Run(bgCtx)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("backend", cfg.Backend.BaseURL),
		zap.String("session_store", cfg.Sessions.Store.Driver),
		zap.String("lookup_cache", cache.Name()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		exitCode = 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	bgCancel()
	closeStore()
	if err := closeCache(); err != nil {
		logger.Error("lookup cache close error", zap.Error(err))
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return exitCode
}
