package main

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/matt-riley/yomu/migrations"
)

func runMigrations(pool *pgxpool.Pool, logger *slog.Logger) error {
	if err := migrations.Up(pool); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}
