// Package postgres provides the Postgres-backed batch job store.
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

	"github.com/JakeFAU/batchsearch/internal/batch"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "batches"

// JobStoreConfig controls the Postgres connection pool used for batch rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	QueryRow(context.Context, string, ...any) pgx.Row
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

var _ batch.Store = (*JobStore)(nil)

// JobStore reads and updates batch rows in Postgres. Every call acquires its own
// pooled connection, so a single JobStore is shared by all workers.
type JobStore struct {
	pool  queryExecCloser
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := resolveTable(cfg.Table)
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
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool queryExecCloser, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	resolved, err := resolveTable(table)
	if err != nil {
		return nil, err
	}
	return &JobStore{pool: pool, table: resolved}, nil
}

func resolveTable(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Fetch loads one batch row. A missing row yields batch.ErrNotFound.
func (s *JobStore) Fetch(ctx context.Context, id int64) (batch.Record, error) {
	if s == nil || s.pool == nil {
		return batch.Record{}, fmt.Errorf("job store is not configured")
	}
	query := fmt.Sprintf(`
SELECT
	id,
	start_range,
	end_range,
	COALESCE(status, ''),
	COALESCE(found, FALSE),
	COALESCE(wif, ''),
	start_tm
FROM %s
WHERE id = $1`, s.table)

	var (
		rec       batch.Record
		rawStatus string
		startTime *time.Time
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID,
		&rec.StartRange,
		&rec.EndRange,
		&rawStatus,
		&rec.Found,
		&rec.WIF,
		&startTime,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return batch.Record{}, batch.ErrNotFound
		}
		return batch.Record{}, fmt.Errorf("fetch batch %d: %w", id, err)
	}
	rec.Status = batch.ParseStatus(rawStatus)
	rec.StartTime = startTime
	return rec, nil
}

// Update writes status, found and wif for a batch and stamps start_tm.
func (s *JobStore) Update(ctx context.Context, id int64, update batch.Update) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("job store is not configured")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, found = $2, wif = $3, start_tm = now()
WHERE id = $4`, s.table)

	tag, err := s.pool.Exec(ctx, query, string(update.Status), update.Found, update.WIF, id)
	if err != nil {
		return fmt.Errorf("update batch %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return batch.ErrNotFound
	}
	return nil
}
