// Package main is the entry point for the yomu server.
//
// The server loads configuration from the environment, applies migrations,
// warms the catalog cache and then serves the public HTTP and gRPC APIs plus,
// when ADMIN_HOSTNAME is set, the admin portal on the tailnet. SIGINT or
// SIGTERM, or any listener failing, shuts everything down gracefully.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/matt-riley/yomu/internal/admin"
	"github.com/matt-riley/yomu/internal/config"
	"github.com/matt-riley/yomu/internal/i18n"
	"github.com/matt-riley/yomu/internal/logging"
	"github.com/matt-riley/yomu/internal/metrics"
	"github.com/matt-riley/yomu/internal/middleware"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/server"
	"github.com/matt-riley/yomu/internal/service"
	"github.com/matt-riley/yomu/internal/tracing"
)

var version = "0.1.0-dev"

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

	log := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(log)

	tracingCfg, err := tracing.ConfigFromEnv(version)
	if err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	shutdownTracer, err := tracing.Init(context.Background(), tracingCfg)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			log.Error("tracer shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := runMigrations(pool, log); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	m := metrics.New()
	m.SetBuildInfo(version)
	metrics.RegisterPoolMetrics(m.Registry, pool)

	repo := repository.NewPostgresRepository(pool, repository.WithEventBatchSize(cfg.EventBatchSize))
	svc, err := service.New(ctx, repo,
		service.WithLogger(logging.Component(log, "service")),
		service.WithCacheMetrics(m.IncCacheLoads, m.IncCacheInvalidations, m.ResetCacheSize, m.SetCacheSize),
		service.WithEvaluationMetrics(m.RecordEvaluation),
		service.WithCacheResyncInterval(cfg.CacheResyncInterval),
	)
	if err != nil {
		return fmt.Errorf("init service: %w", err)
	}

	translator, err := i18n.New(cfg.DefaultLocale, logging.Component(log, "i18n"))
	if err != nil {
		return fmt.Errorf("init translations: %w", err)
	}

	limiter := middleware.NewRateLimiter(ctx, cfg.AuthRateLimit)
	defer limiter.Stop()

	authOpts := []middleware.AuthOption{
		middleware.WithOnAuthFailure(m.IncAuthFailures),
		middleware.WithRateLimiter(limiter),
	}
	tokenValidator := middleware.NewAPIKeyValidator(repo)
	serverOpts := []server.Option{
		server.WithStreamPollInterval(cfg.StreamPollInterval),
		server.WithMaxJSONBodySize(cfg.MaxJSONBodySize),
		server.WithMetrics(m),
		server.WithTranslator(translator),
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(newHTTPHandler(server.NewHTTPHandler(svc, serverOpts...), tokenValidator, log, authOpts...), "yomu-http"),
		ReadHeaderTimeout: httpReadHeaderTimeout,
		ReadTimeout:       httpReadTimeout,
		IdleTimeout:       httpIdleTimeout,
	}
	grpcServer := newGRPCServer(server.NewGRPCServer(svc, serverOpts...), tokenValidator, m, log, authOpts...)

	var portal *adminPortal
	if cfg.AdminEnabled() {
		portal, err = newAdminPortal(cfg, adminDeps{
			store:    repo,
			sessions: repo,
			catalog:  svc,
			limiter:  limiter,
			opts:     []admin.Option{admin.WithTranslator(translator), admin.WithMetrics(m)},
		}, log)
		if err != nil {
			return err
		}
	}

	httpListener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen HTTP %s: %w", cfg.HTTPAddr, err)
	}
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		httpListener.Close()
		return fmt.Errorf("listen gRPC %s: %w", cfg.GRPCAddr, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpServer.Serve(httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve HTTP: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcServer.Serve(grpcListener); err != nil {
			return fmt.Errorf("serve gRPC: %w", err)
		}
		return nil
	})
	if portal != nil {
		g.Go(func() error { return portal.run(gctx) })
	}

	log.Info("server started",
		"version", version,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
		"admin", cfg.AdminEnabled(),
		"default_locale", cfg.DefaultLocale,
		"tracing", tracingCfg.Enabled(),
	)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown HTTP: %w", err))
		}
		stopGRPC(shutdownCtx, grpcServer)
		if portal != nil {
			if err := portal.shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown admin portal: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// stopGRPC drains in-flight calls, forcing a stop once ctx expires. Open
// WatchCatalog streams would otherwise hold GracefulStop forever.
func stopGRPC(ctx context.Context, s *grpc.Server) {
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		s.Stop()
	}
}

// newHTTPHandler puts everything under /v1/ behind bearer auth and leaves
// only the health and metrics endpoints public.
func newHTTPHandler(apiHandler http.Handler, tokenValidator middleware.TokenValidator, log *slog.Logger, opts ...middleware.AuthOption) http.Handler {
	protectedAPIHandler := middleware.HTTPBearerAuthMiddleware(tokenValidator, opts...)(apiHandler)

	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedAPIHandler)
	mux.Handle("GET /healthz", apiHandler)
	mux.Handle("GET /metrics", apiHandler)

	return middleware.HTTPRequestLogging(log)(mux)
}

func newGRPCServer(benefits server.BenefitServiceServer, tokenValidator middleware.TokenValidator, m *metrics.Metrics, log *slog.Logger, opts ...middleware.AuthOption) *grpc.Server {
	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			middleware.UnaryRequestLoggingInterceptor(log),
			middleware.UnaryBearerAuthInterceptor(tokenValidator, opts...),
			m.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			middleware.StreamRequestLoggingInterceptor(log),
			middleware.StreamBearerAuthInterceptor(tokenValidator, opts...),
			m.StreamServerInterceptor(),
		),
	)
	server.RegisterBenefitServiceServer(grpcServer, benefits)
	return grpcServer
}
