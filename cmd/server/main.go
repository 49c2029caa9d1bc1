// Package main is the entry point for the engage server.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables.
//  2. Connect to PostgreSQL via pgxpool and apply embedded migrations.
//  3. Create the repository, geolocation resolver, and service.
//  4. Wire up the HTTP API with rate limiting, request logging, and tracing.
//  5. Wait for SIGINT/SIGTERM, then gracefully shut down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/matt-riley/engage/internal/config"
	"github.com/matt-riley/engage/internal/geo"
	"github.com/matt-riley/engage/internal/logging"
	"github.com/matt-riley/engage/internal/metrics"
	"github.com/matt-riley/engage/internal/middleware"
	"github.com/matt-riley/engage/internal/repository"
	"github.com/matt-riley/engage/internal/server"
	"github.com/matt-riley/engage/internal/service"
	"github.com/matt-riley/engage/internal/tracing"
)

const (
	shutdownTimeout       = 10 * time.Second
	httpReadHeaderTimeout = 5 * time.Second
	httpReadTimeout       = 30 * time.Second
	httpIdleTimeout       = 2 * time.Minute
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(cfg.LogLevel)
	slog.SetDefault(log)

	shutdownTracer, err := tracing.Init(context.Background())
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := repository.NewPgxPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := runMigrations(pool); err != nil {
		return err
	}

	repo := repository.NewPostgresRepository(pool)
	m := metrics.New()
	metrics.RegisterPoolMetrics(m.Registry, pool)

	svc, err := service.New(repo, newGeoResolver(cfg),
		service.WithLogger(log),
		service.WithMetrics(m),
		service.WithMarkTimeout(cfg.MarkTimeout),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	rateLimiter := middleware.NewRateLimiter(ctx, cfg.ConnectRateLimit)
	defer rateLimiter.Stop()

	apiHandler := server.NewHTTPHandler(svc, m, server.WithMaxJSONBodySize(cfg.MaxJSONBodySize))
	httpHandler := newHTTPHandler(apiHandler, log, rateLimiter, m)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler, "engage-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	defer httpListener.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("serve HTTP: %w", err)
		}
	}()

	log.Info("server started", "http_addr", cfg.HTTPAddr, "geo_mode", cfg.GeoMode)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-serveErrCh:
	}
	stop()

	log.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		if serveErr != nil {
			return serveErr
		}
		return fmt.Errorf("shutdown HTTP: %w", err)
	}

	return serveErr
}

// newHTTPHandler composes the outer HTTP stack: the connect endpoint is rate
// limited per IP, everything else passes straight to the API handler, and the
// whole surface gets request logging.
func newHTTPHandler(apiHandler http.Handler, log *slog.Logger, rateLimiter *middleware.RateLimiter, m *metrics.Metrics) http.Handler {
	limitedConnect := middleware.HTTPRateLimitMiddleware(rateLimiter,
		middleware.WithOnRateLimited(m.RecordRateLimited),
	)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/visitors/connect", limitedConnect)
	mux.Handle("/", apiHandler)

	return middleware.HTTPRequestLogging(log)(mux)
}

func newGeoResolver(cfg config.Config) geo.Resolver {
	if cfg.GeoMode == config.GeoModeStatic {
		return geo.Static{Location: geo.Location{
			City:    cfg.GeoStaticCity,
			Country: cfg.GeoStaticCountry,
		}}
	}

	return geo.NewClient(geo.Config{
		LookupURL:   cfg.GeoLookupURL,
		PublicIPURL: cfg.GeoPublicIPURL,
		Timeout:     cfg.GeoTimeout,
	})
}
