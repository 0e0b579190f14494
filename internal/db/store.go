// Package db wraps the embedded SQLite index store.
//
// The index is a single self-contained database file colocated with the
// indexed directory tree. It holds one table, the market index, keyed by
// market id. The store runs fully embedded (ncruces/go-sqlite3, wazero
// build) with WAL mode so readers are not blocked during writes.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mzaja/betfair-database/internal/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the database connection to the index file.
type Store struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the index database at the specified path.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping index database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL mode for concurrent reads during batch writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Path returns the location of the index file.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection, checkpointing the WAL so the
// index stays a single self-contained file.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close index database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the index table if it doesn't exist. Idempotent.
//
// The market id is the primary key: re-inserting the same id replaces the
// existing row instead of duplicating it.
func (s *Store) InitSchema(ctx context.Context) error {
	cols := schema.Columns()
	defs := make([]string, len(cols))
	for i, col := range cols {
		if col == schema.MarketIDColumn {
			defs[i] = col + " TEXT PRIMARY KEY"
		} else {
			defs[i] = col
		}
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		schema.TableName, strings.Join(defs, ", "))
	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize index schema: %w", err)
	}
	return nil
}

// upsertSQL is built once; every row write uses the same statement shape.
var upsertSQL = func() string {
	cols := schema.Columns()
	var updates []string
	for _, col := range cols {
		if col != schema.MarketIDColumn {
			updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
		}
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		schema.TableName,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
		schema.MarketIDColumn,
		strings.Join(updates, ", "),
	)
}()

func rowArgs(row schema.Row) []any {
	cols := schema.Columns()
	args := make([]any, len(cols))
	for i, col := range cols {
		args[i] = row[col]
	}
	return args
}

// UpsertRow inserts or replaces one index row, keyed by market id.
func (s *Store) UpsertRow(ctx context.Context, row schema.Row) error {
	if _, err := s.conn.ExecContext(ctx, upsertSQL, rowArgs(row)...); err != nil {
		return fmt.Errorf("failed to upsert market %s: %w", row.MarketID(), err)
	}
	return nil
}

// ReplaceAll atomically replaces the table contents with the given rows.
// Either every row lands or the previous contents survive untouched.
func (s *Store) ReplaceAll(ctx context.Context, rows []schema.Row) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+schema.TableName); err != nil {
		return fmt.Errorf("failed to clear index table: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, rowArgs(row)...); err != nil {
			return fmt.Errorf("failed to insert market %s: %w", row.MarketID(), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit index rows: %w", err)
	}
	return nil
}

// DeleteRows removes the rows with the given market ids. Missing ids are
// ignored (idempotent).
func (s *Store) DeleteRows(ctx context.Context, marketIDs []string) error {
	if len(marketIDs) == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		schema.TableName, schema.MarketIDColumn)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare delete: %w", err)
	}
	defer stmt.Close()
	for _, id := range marketIDs {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("failed to delete market %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletes: %w", err)
	}
	return nil
}

// Query selects rows from the index. columns defaults to all index
// columns; where is an optional SQL predicate; limit <= 0 means no limit.
// Each row is returned as a column name to value mapping.
func (s *Store) Query(ctx context.Context, columns []string, where string, limit int) ([]map[string]any, error) {
	if len(columns) == 0 {
		columns = schema.Columns()
	}
	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), schema.TableName)
	if where != "" {
		query += " WHERE " + where
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan index row: %w", err)
		}
		entry := make(map[string]any, len(columns))
		for i, col := range columns {
			entry[col] = values[i]
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index rows: %w", err)
	}
	return out, nil
}

// Has reports whether a row with the given market id exists.
func (s *Store) Has(ctx context.Context, marketID string) (bool, error) {
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s = ?",
		schema.TableName, schema.MarketIDColumn)
	var one int
	err := s.conn.QueryRowContext(ctx, query, marketID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up market %s: %w", marketID, err)
	}
	return true, nil
}

// Count returns the number of rows in the index table.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+schema.TableName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count index rows: %w", err)
	}
	return n, nil
}

// PathEntry is the file location part of one index row, used by the clean
// operation's existence checks.
type PathEntry struct {
	MarketID     string
	MetadataPath sql.NullString
	DataPath     sql.NullString
}

// Paths returns the market id and file path columns of every row.
func (s *Store) Paths(ctx context.Context) ([]PathEntry, error) {
	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s",
		schema.MarketIDColumn, schema.MetadataPathColumn, schema.DataPathColumn,
		schema.TableName)
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query index paths: %w", err)
	}
	defer rows.Close()

	var out []PathEntry
	for rows.Next() {
		var e PathEntry
		if err := rows.Scan(&e.MarketID, &e.MetadataPath, &e.DataPath); err != nil {
			return nil, fmt.Errorf("failed to scan index paths: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read index paths: %w", err)
	}
	return out, nil
}
