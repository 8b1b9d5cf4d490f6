// Package postgres provides the Postgres-backed journal store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/journal-crawler/internal/journal"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS journals (
    id          TEXT PRIMARY KEY,
    version     TEXT NOT NULL,
    raw         JSONB NOT NULL DEFAULT '{}',
    fields      JSONB NOT NULL DEFAULT '{}',
    provenance  JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS issn_aliases (
    issn        TEXT PRIMARY KEY,
    journal_id  TEXT NOT NULL,
    kind        TEXT NOT NULL,
    source      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_issn_aliases_journal ON issn_aliases (journal_id);

CREATE TABLE IF NOT EXISTS fetch_status (
    journal_id   TEXT NOT NULL,
    source       TEXT NOT NULL,
    version      TEXT NOT NULL,
    state        TEXT NOT NULL,
    http_status  INTEGER NOT NULL DEFAULT 0,
    message      TEXT NOT NULL DEFAULT '',
    attempts     INTEGER NOT NULL DEFAULT 0,
    updated_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (journal_id, source, version)
);
CREATE INDEX IF NOT EXISTS idx_fetch_status_pending ON fetch_status (version, state, journal_id);

CREATE TABLE IF NOT EXISTS crawl_runs (
    id               TEXT PRIMARY KEY,
    type             TEXT NOT NULL,
    status           TEXT NOT NULL,
    phase            TEXT NOT NULL,
    producer_status  TEXT NOT NULL DEFAULT '',
    consumer_status  TEXT NOT NULL DEFAULT '',
    version          TEXT NOT NULL,
    cursor           TEXT NOT NULL DEFAULT '',
    pages_completed  INTEGER NOT NULL DEFAULT 0,
    collected        BIGINT NOT NULL DEFAULT 0,
    total            BIGINT NOT NULL DEFAULT 0,
    processed        BIGINT NOT NULL DEFAULT 0,
    succeeded        BIGINT NOT NULL DEFAULT 0,
    failed           BIGINT NOT NULL DEFAULT 0,
    filter           TEXT NOT NULL DEFAULT '',
    pause_reason     TEXT NOT NULL DEFAULT '',
    last_error       TEXT NOT NULL DEFAULT '',
    started_at       TIMESTAMPTZ NOT NULL,
    finished_at      TIMESTAMPTZ,
    updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawl_runs_started ON crawl_runs (started_at);

CREATE TABLE IF NOT EXISTS crawl_meta (
    key    TEXT PRIMARY KEY,
    value  TEXT NOT NULL
);
`

const currentVersionKey = "current_version"

// DB is the subset of pgxpool.Pool the store uses; pgxmock satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Store implements journal.Store on Postgres.
type Store struct {
	db DB
}

var _ journal.Store = (*Store)(nil)

// New connects a pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{db: pool}, nil
}

// NewWithDB wraps an existing pool (primarily for testing).
func NewWithDB(db DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &Store{db: db}, nil
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// CurrentVersion implements journal.VersionStore.
func (s *Store) CurrentVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.QueryRow(ctx, `SELECT value FROM crawl_meta WHERE key = $1`, currentVersionKey).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", journal.ErrNotFound
		}
		return "", fmt.Errorf("get current version: %w", err)
	}
	return v, nil
}

// SetCurrentVersion implements journal.VersionStore.
func (s *Store) SetCurrentVersion(ctx context.Context, version string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO crawl_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		currentVersionKey, version)
	if err != nil {
		return fmt.Errorf("set current version: %w", err)
	}
	return nil
}

// ClearCrawlData truncates journals, aliases and fetch statuses. Run history
// and the version stamp are kept.
func (s *Store) ClearCrawlData(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, `TRUNCATE journals, issn_aliases, fetch_status`); err != nil {
		return fmt.Errorf("clear crawl data: %w", err)
	}
	return nil
}
