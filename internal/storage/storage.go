package storage

import (
	"context"
	"errors"

	"batterycounter/internal/core"
)

var ErrNotFound = errors.New("log entry not found")

// LogFilter narrows a log listing
type LogFilter struct {
	DeviceID string // empty matches every device
	Since    int64  // unix seconds, 0 = no lower bound
	Limit    int    // 0 = every matching entry
}

// Storage defines the interface for data persistence
type Storage interface {
	// InsertLog stores entry and fills in ID and CreatedAt. It returns false
	// without error when an entry with the same EventID already exists.
	InsertLog(ctx context.Context, entry *core.LogEntry) (bool, error)
	GetLogByEventID(ctx context.Context, eventID string) (*core.LogEntry, error)
	// ListLogs returns entries ordered by timestamp, newest first
	ListLogs(ctx context.Context, filter LogFilter) ([]*core.LogEntry, error)
	// TotalAmount sums the amount of every stored entry
	TotalAmount(ctx context.Context) (int64, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}
