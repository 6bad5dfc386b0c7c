package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wuwenbin0122/wwb.chat/internal/utils"
)

type Postgres struct {
	Pool  *pgxpool.Pool
	table string
}

func NewPostgres(ctx context.Context, cfg utils.PostgresConfig) (*Postgres, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		table = "kv_store"
	}

	return &Postgres{Pool: pool, table: pgx.Identifier{table}.Sanitize()}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.Pool == nil {
		return nil
	}
	p.Pool.Close()
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	stmt := strings.Join([]string{
		"CREATE TABLE IF NOT EXISTS " + p.table + " (",
		"    key TEXT PRIMARY KEY,",
		"    value JSONB NOT NULL,",
		"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
		")",
	}, "\n")

	if _, err := p.Pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}

	return nil
}

func (p *Postgres) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := p.Pool.QueryRow(ctx, "SELECT value::text FROM "+p.table+" WHERE key = $1", key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("postgres: load %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (p *Postgres) Save(ctx context.Context, key string, value []byte) error {
	stmt := "INSERT INTO " + p.table + " (key, value, updated_at) VALUES ($1, $2::jsonb, NOW()) " +
		"ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at"
	if _, err := p.Pool.Exec(ctx, stmt, key, string(value)); err != nil {
		return fmt.Errorf("postgres: save %s: %w", key, err)
	}
	return nil
}
