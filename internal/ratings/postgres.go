package ratings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig controls the connection pool used for rating rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	BatchSize       int
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresUpserter writes rating rows with INSERT ... ON CONFLICT.
type PostgresUpserter struct {
	pool      execCloser
	table     string
	batchSize int
}

// NewPostgres connects a pool using cfg.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresUpserter, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("ratings.postgres_dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	u, err := NewPostgresWithPool(pool, cfg.Table, cfg.BatchSize)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return u, nil
}

// NewPostgresWithPool constructs an upserter from an existing pool (primarily for testing).
func NewPostgresWithPool(pool execCloser, table string, batchSize int) (*PostgresUpserter, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := checkTable(table)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PostgresUpserter{pool: pool, table: table, batchSize: batchSize}, nil
}

// Close releases the underlying pool resources.
func (u *PostgresUpserter) Close() {
	if u == nil || u.pool == nil {
		return
	}
	u.pool.Close()
}

// Upsert writes rows in batches. A row with an existing id overwrites every
// column of the stored row.
func (u *PostgresUpserter) Upsert(ctx context.Context, rows []Row) error {
	if u == nil || u.pool == nil {
		return fmt.Errorf("ratings upserter is not configured")
	}
	if err := validate(rows); err != nil {
		return err
	}
	for _, batch := range Batches(rows, u.batchSize) {
		query, args := u.batchQuery(batch)
		if _, err := u.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %d rating rows: %w", len(batch), err)
		}
	}
	return nil
}

func (u *PostgresUpserter) batchQuery(batch []Row) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (id, name, team, elo, ratings_count) VALUES ", u.table)
	args := make([]any, 0, len(batch)*5)
	for i, r := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		n := i * 5
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5)
		args = append(args, r.ID, r.Name, r.Team, r.Rating, r.RatingCount)
	}
	sb.WriteString(" ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, team = EXCLUDED.team," +
		" elo = EXCLUDED.elo, ratings_count = EXCLUDED.ratings_count")
	return sb.String(), args
}
