package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"accord/internal/platform/config"
	"accord/migrations"
)

// Conn holds both handles onto one database: the pgx pool backs the mapping
// store, database/sql backs the audit log.
type Conn struct {
	Pool *pgxpool.Pool
	DB   *sql.DB
}

// Open connects both handles and applies migrations. Returns nil, nil when
// no URL is configured.
func Open(ctx context.Context, cfg config.Postgres) (*Conn, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("open pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("open sql db: %w", err)
	}
	db.SetMaxOpenConns(int(max(cfg.MaxConns, 2)))

	c := &Conn{Pool: pool, DB: db}
	if err := c.Migrate(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Migrate applies the embedded schema. Statements are idempotent.
func (c *Conn) Migrate(ctx context.Context) error {
	stmts, err := migrations.Statements()
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := c.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

// Health pings the pool.
func (c *Conn) Health(ctx context.Context) error {
	return c.Pool.Ping(ctx)
}

func (c *Conn) Close() {
	c.Pool.Close()
	_ = c.DB.Close()
}
