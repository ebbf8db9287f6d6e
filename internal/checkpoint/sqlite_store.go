package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/himanalot/swimmer-elo/internal/crawler"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements crawler.CheckpointStore on SQLite. A single
// connection serializes every write.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// LoadIndex reads the discovery index.
func (s *SQLiteStore) LoadIndex(ctx context.Context) (crawler.Index, error) {
	var savedAt string
	err := s.db.QueryRowContext(ctx, `SELECT saved_at FROM discovery WHERE id = 1`).Scan(&savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, crawler.ErrIndexNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load discovery marker: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT parent_id, child_id FROM parent_children ORDER BY parent_id, position`)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	index := crawler.Index{}
	for rows.Next() {
		var parent, child string
		if err := rows.Scan(&parent, &child); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		// Teams with an empty roster are stored as a single marker row.
		if child == "" {
			if _, ok := index[parent]; !ok {
				index[parent] = []string{}
			}
			continue
		}
		index[parent] = append(index[parent], child)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index: %w", err)
	}
	return index, nil
}

// SaveIndex replaces the discovery index in one transaction.
func (s *SQLiteStore) SaveIndex(ctx context.Context, index crawler.Index) error {
	if err := validateIndex(index); err != nil {
		return err
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM parent_children`); err != nil {
			return fmt.Errorf("clear index: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR IGNORE INTO parent_children (parent_id, position, child_id) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare index insert: %w", err)
		}
		defer stmt.Close() //nolint:errcheck // closed with the transaction
		for parent, children := range index {
			if len(children) == 0 {
				if _, err := stmt.ExecContext(ctx, parent, -1, ""); err != nil {
					return fmt.Errorf("insert team %s: %w", parent, err)
				}
				continue
			}
			for i, child := range children {
				if _, err := stmt.ExecContext(ctx, parent, i, child); err != nil {
					return fmt.Errorf("insert %s/%s: %w", parent, child, err)
				}
			}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO discovery (id, saved_at) VALUES (1, ?)
			 ON CONFLICT(id) DO UPDATE SET saved_at = excluded.saved_at`,
			time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("mark discovery: %w", err)
		}
		return nil
	})
}

// IsComplete reports whether child was recorded as fetched for parent.
func (s *SQLiteStore) IsComplete(ctx context.Context, parent, child string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM completions WHERE parent_id = ? AND child_id = ?`, parent, child).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check completion: %w", err)
	}
	return true, nil
}

// Completed returns the completion set for parent.
func (s *SQLiteStore) Completed(ctx context.Context, parent string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT child_id FROM completions WHERE parent_id = ?`, parent)
	if err != nil {
		return nil, fmt.Errorf("load completions: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor
	out := make(map[string]struct{})
	for rows.Next() {
		var child string
		if err := rows.Scan(&child); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		out[child] = struct{}{}
	}
	return out, rows.Err()
}

// MarkComplete records child as fetched. Repeated calls are no-ops.
func (s *SQLiteStore) MarkComplete(ctx context.Context, parent, child string) error {
	if !crawler.ValidID(parent) || !crawler.ValidID(child) {
		return fmt.Errorf("%w: %q/%q", crawler.ErrInvalidID, parent, child)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO completions (parent_id, child_id, completed_at) VALUES (?, ?, ?)`,
		parent, child, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("mark %s/%s complete: %w", parent, child, err)
	}
	return nil
}

// ClearParent deletes every completion for parent.
func (s *SQLiteStore) ClearParent(ctx context.Context, parent string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM completions WHERE parent_id = ?`, parent); err != nil {
		return fmt.Errorf("clear %s: %w", parent, err)
	}
	return nil
}

func (s *SQLiteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
