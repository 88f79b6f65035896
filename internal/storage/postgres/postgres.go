// Package postgres implements storage.Storage on PostgreSQL for hosted
// deployments of the aggregation service.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"batterycounter/internal/core"
	"batterycounter/internal/storage"

	_ "github.com/lib/pq"
)

// PostgresStorage implements storage.Storage using PostgreSQL
type PostgresStorage struct {
	db *sql.DB
}

// New connects to dsn and applies the schema
func New(ctx context.Context, dsn string) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &PostgresStorage{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *PostgresStorage) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS battery_logs (
			id BIGSERIAL PRIMARY KEY,
			event_id TEXT UNIQUE,
			timestamp BIGINT NOT NULL,
			amount INTEGER NOT NULL DEFAULT 1,
			device_id TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_battery_logs_timestamp ON battery_logs(timestamp);
		CREATE INDEX IF NOT EXISTS idx_battery_logs_device ON battery_logs(device_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// InsertLog stores a log entry, ignoring a repeated event ID
func (s *PostgresStorage) InsertLog(ctx context.Context, entry *core.LogEntry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}

	entry.CreatedAt = time.Now().UTC()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO battery_logs (event_id, timestamp, amount, device_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
		RETURNING id
	`, nullString(entry.EventID), entry.Timestamp, entry.Amount, entry.DeviceID, entry.CreatedAt).Scan(&entry.ID)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetLogByEventID retrieves a log entry by its event ID
func (s *PostgresStorage) GetLogByEventID(ctx context.Context, eventID string) (*core.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, timestamp, amount, device_id, created_at
		FROM battery_logs WHERE event_id = $1
	`, eventID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return entry, err
}

// ListLogs lists log entries, newest first
func (s *PostgresStorage) ListLogs(ctx context.Context, filter storage.LogFilter) ([]*core.LogEntry, error) {
	query, args := listQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []*core.LogEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func listQuery(filter storage.LogFilter) (string, []any) {
	var where []string
	var args []any
	if filter.DeviceID != "" {
		args = append(args, filter.DeviceID)
		where = append(where, fmt.Sprintf("device_id = $%d", len(args)))
	}
	if filter.Since > 0 {
		args = append(args, filter.Since)
		where = append(where, fmt.Sprintf("timestamp >= $%d", len(args)))
	}

	query := `SELECT id, event_id, timestamp, amount, device_id, created_at FROM battery_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// TotalAmount sums every stored amount
func (s *PostgresStorage) TotalAmount(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM battery_logs`).Scan(&total)
	return total, err
}

// Ping checks the database connection
func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*core.LogEntry, error) {
	var entry core.LogEntry
	var eventID sql.NullString
	if err := row.Scan(&entry.ID, &eventID, &entry.Timestamp, &entry.Amount, &entry.DeviceID, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.EventID = eventID.String
	return &entry, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure PostgresStorage implements storage.Storage
var _ storage.Storage = (*PostgresStorage)(nil)
