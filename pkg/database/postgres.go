package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

var Pool *pgxpool.Pool

func NewPostgresPool(databaseURL string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	Pool = pool
	log.Info().Msg("Connected to PostgreSQL")

	return pool, nil
}

func Close() {
	if Pool != nil {
		Pool.Close()
		log.Info().Msg("Closed PostgreSQL connection pool")
	}
}

// schema is applied on every start; every statement must be idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS emotes (
		name       TEXT PRIMARY KEY,
		image_url  TEXT NOT NULL,
		source     TEXT NOT NULL,
		owner_id   BIGINT NOT NULL DEFAULT 0,
		animated   BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS emotes_source_idx ON emotes (source)`,
	`CREATE TABLE IF NOT EXISTS emote_blacklist (
		name        TEXT PRIMARY KEY,
		disabled_by BIGINT NOT NULL DEFAULT 0,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS sync_logs (
		key      TEXT PRIMARY KEY,
		last_run TIMESTAMPTZ NOT NULL,
		success  BOOLEAN NOT NULL,
		failures INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS channel_webhooks (
		channel_id TEXT PRIMARY KEY,
		webhook_id TEXT NOT NULL,
		token_enc  TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the tables the bot needs if they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return WithTransaction(ctx, pool, func(ctx context.Context, tx pgx.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}
		}
		return nil
	})
}

// Transaction helper that handles commit/rollback automatically
func WithTransaction(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
