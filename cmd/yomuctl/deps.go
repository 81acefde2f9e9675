package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt-riley/yomu/internal/logging"
	"github.com/matt-riley/yomu/internal/repository"
	"github.com/matt-riley/yomu/internal/service"
)

var errDatabaseURLRequired = errors.New("database URL is required (set DATABASE_URL or --database-url)")

// withPool opens a connection pool for the duration of fn.
func withPool(ctx context.Context, opts *globalOptions, fn func(*pgxpool.Pool, *slog.Logger) error) error {
	if strings.TrimSpace(opts.databaseURL) == "" {
		return errDatabaseURLRequired
	}
	log := logging.New(logging.Options{Level: opts.logLevel, Format: opts.logFormat})

	pool, err := pgxpool.New(ctx, opts.databaseURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	return fn(pool, log)
}

// withService builds the benefit service so writes go through validation,
// cache invalidation and catalog events exactly as they do in the server.
func withService(ctx context.Context, opts *globalOptions, fn func(*service.Service) error) error {
	return withPool(ctx, opts, func(pool *pgxpool.Pool, log *slog.Logger) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		repo := repository.NewPostgresRepository(pool)
		svc, err := service.New(ctx, repo, service.WithLogger(logging.Component(log, "service")))
		if err != nil {
			return fmt.Errorf("init service: %w", err)
		}
		return fn(svc)
	})
}
