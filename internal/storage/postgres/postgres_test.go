package postgres

import (
	"context"
	"os"
	"testing"

	"batterycounter/internal/core"
	"batterycounter/internal/idgen"
	"batterycounter/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListQuery(t *testing.T) {
	query, args := listQuery(storage.LogFilter{})
	assert.Contains(t, query, "ORDER BY timestamp DESC, id DESC")
	assert.NotContains(t, query, "WHERE")
	assert.NotContains(t, query, "LIMIT")
	assert.Empty(t, args)

	query, args = listQuery(storage.LogFilter{DeviceID: "rpi4_1", Since: 100, Limit: 5})
	assert.Contains(t, query, "WHERE device_id = $1 AND timestamp >= $2")
	assert.Contains(t, query, "LIMIT $3")
	assert.Equal(t, []any{"rpi4_1", int64(100), 5}, args)
}

// Runs against a real server when COUNTER_TEST_POSTGRES_DSN is set
func TestPostgresStorage_Integration(t *testing.T) {
	dsn := os.Getenv("COUNTER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("COUNTER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	before, err := s.TotalAmount(ctx)
	require.NoError(t, err)

	eventID := idgen.NewEvent()
	inserted, err := s.InsertLog(ctx, &core.LogEntry{EventID: eventID, Timestamp: 1700000000, Amount: 2, DeviceID: "it_device"})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.InsertLog(ctx, &core.LogEntry{EventID: eventID, Timestamp: 1700000000, Amount: 2, DeviceID: "it_device"})
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetLogByEventID(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Amount)

	after, err := s.TotalAmount(ctx)
	require.NoError(t, err)
	assert.Equal(t, before+2, after)

	logs, err := s.ListLogs(ctx, storage.LogFilter{DeviceID: "it_device", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	_, err = s.GetLogByEventID(ctx, "evt_missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
