// Package postgres records terminal lookup outcomes in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/scrape-queue/internal/lookup"
)

const defaultTable = "lookup_outcomes"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for outcome rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// OutcomeStore implements lookup.OutcomeRecorder.
type OutcomeStore struct {
	pool  execCloser
	table string
}

// NewOutcomeStore opens a pgx pool from cfg.
func NewOutcomeStore(ctx context.Context, cfg Config) (*OutcomeStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &OutcomeStore{pool: pool, table: table}, nil
}

// NewOutcomeStoreWithPool wraps an existing pool (primarily for testing).
func NewOutcomeStoreWithPool(pool execCloser, table string) (*OutcomeStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		return defaultTable, nil
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// EnsureSchema creates the outcome table if it does not exist.
func (s *OutcomeStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	job_id        TEXT PRIMARY KEY,
	request_key   TEXT NOT NULL,
	state         TEXT NOT NULL,
	found         BOOLEAN NOT NULL DEFAULT FALSE,
	record_count  INTEGER NOT NULL DEFAULT 0,
	error_kind    TEXT,
	error_message TEXT,
	from_cache    BOOLEAN NOT NULL DEFAULT FALSE,
	finished_at   TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT NOT NULL DEFAULT 0,
	result        JSONB
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// RecordOutcome upserts one terminal outcome keyed by job id.
func (s *OutcomeStore) RecordOutcome(ctx context.Context, out lookup.Outcome) error {
	if s == nil || s.pool == nil {
		return errors.New("outcome store is not configured")
	}
	if out.JobID == "" {
		return errors.New("job id is required")
	}
	var result []byte
	if out.Result != nil {
		var err error
		if result, err = json.Marshal(out.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	request_key,
	state,
	found,
	record_count,
	error_kind,
	error_message,
	from_cache,
	finished_at,
	duration_ms,
	result
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (job_id) DO NOTHING`, s.table)

	args := []any{
		out.JobID,
		out.Key,
		string(out.State),
		out.Found,
		out.RecordCount,
		nullable(string(out.ErrorKind)),
		nullable(out.ErrorMessage),
		out.FromCache,
		out.FinishedAt,
		out.Duration.Milliseconds(),
		result,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
