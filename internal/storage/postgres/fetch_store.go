// Package postgres provides Postgres-backed job and fetch record stores.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-harvester/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the Postgres connection pool.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// querier is the subset of pgxpool.Pool the stores use; pgxmock satisfies it.
type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// NewPool opens a pgx pool from config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	return pool, nil
}

func tableName(table, fallback string) (string, error) {
	if table == "" {
		table = fallback
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// FetchStore writes one row per harvested URL.
type FetchStore struct {
	pool  querier
	table string
}

// NewFetchStore constructs a store over an existing pool.
func NewFetchStore(pool querier, table string) (*FetchStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table, "fetches")
	if err != nil {
		return nil, err
	}
	return &FetchStore{pool: pool, table: name}, nil
}

// Close releases the underlying pool.
func (s *FetchStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordFetch implements crawler.FetchRecorder.
func (s *FetchStore) RecordFetch(ctx context.Context, record crawler.FetchRecord) error {
	if s == nil || s.pool == nil {
		return errors.New("fetch store is not configured")
	}
	if record.JobID == "" || record.URL == "" {
		return errors.New("fetch record requires job id and url")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	job_id,
	url,
	success,
	attempts,
	error_text,
	artifact_uri,
	content_hash,
	word_count,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)

	args := []any{
		record.JobID,
		record.URL,
		record.Success,
		record.Attempts,
		record.ErrorText,
		record.ArtifactURI,
		record.ContentHash,
		record.WordCount,
		record.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch record: %w", err)
	}
	return nil
}
