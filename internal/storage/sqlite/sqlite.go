package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"batterycounter/internal/core"
	"batterycounter/internal/storage"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements storage.Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// New creates a new SQLite storage instance
func New(dbPath string) (*SQLiteStorage, error) {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dbPath+sep+"_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time keeps the UNIQUE check race-free under WAL
	db.SetMaxOpenConns(1)

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema
func (s *SQLiteStorage) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS battery_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_id TEXT UNIQUE,
			timestamp INTEGER NOT NULL,
			amount INTEGER NOT NULL DEFAULT 1,
			device_id TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_battery_logs_timestamp ON battery_logs(timestamp);
		CREATE INDEX IF NOT EXISTS idx_battery_logs_device ON battery_logs(device_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// InsertLog stores a log entry, ignoring a repeated event ID
func (s *SQLiteStorage) InsertLog(ctx context.Context, entry *core.LogEntry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}

	entry.CreatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO battery_logs (event_id, timestamp, amount, device_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, nullString(entry.EventID), entry.Timestamp, entry.Amount, entry.DeviceID, entry.CreatedAt)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return false, err
	}
	entry.ID = id
	return true, nil
}

// GetLogByEventID retrieves a log entry by its event ID
func (s *SQLiteStorage) GetLogByEventID(ctx context.Context, eventID string) (*core.LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, timestamp, amount, device_id, created_at
		FROM battery_logs WHERE event_id = ?
	`, eventID)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	return entry, err
}

// ListLogs lists log entries, newest first
func (s *SQLiteStorage) ListLogs(ctx context.Context, filter storage.LogFilter) ([]*core.LogEntry, error) {
	var where []string
	var args []any
	if filter.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Since > 0 {
		where = append(where, "timestamp >= ?")
		args = append(args, filter.Since)
	}

	query := `SELECT id, event_id, timestamp, amount, device_id, created_at FROM battery_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

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

// TotalAmount sums every stored amount
func (s *SQLiteStorage) TotalAmount(ctx context.Context) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM battery_logs`).Scan(&total)
	return total, err
}

// Ping checks the database connection
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
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

// Ensure SQLiteStorage implements storage.Storage
var _ storage.Storage = (*SQLiteStorage)(nil)
