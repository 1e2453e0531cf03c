package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KevinKickass/OpenSkyCam/internal/config"
)

type PostgresClient struct {
	pool *pgxpool.Pool
}

func NewPostgresClient(ctx context.Context, cfg config.DatabaseConfig) (*PostgresClient, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse pool config: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Connection testen
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := &PostgresClient{pool: pool}
	if err := client.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return client, nil
}

const capturesSchema = `
CREATE TABLE IF NOT EXISTS captures (
	id               UUID PRIMARY KEY,
	role             TEXT NOT NULL,
	device           TEXT NOT NULL,
	captured_at      TIMESTAMPTZ NOT NULL,
	exposure_seconds DOUBLE PRECISION NOT NULL,
	nominal_seconds  DOUBLE PRECISION NOT NULL,
	dark             BOOLEAN NOT NULL DEFAULT false,
	dark_applied     BOOLEAN NOT NULL DEFAULT false,
	sun_state        TEXT NOT NULL DEFAULT '',
	path             TEXT NOT NULL DEFAULT '',
	error            TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS captures_captured_at_idx ON captures (captured_at DESC);
`

// EnsureSchema creates the captures table when missing.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, capturesSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (p *PostgresClient) Close() {
	p.pool.Close()
}
