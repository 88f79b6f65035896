package queue

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"batterycounter/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func event(id string, ts int64) core.CountEvent {
	return core.CountEvent{ID: id, OccurredAt: ts, Quantity: 1, DeviceID: "rpi4_1"}
}

func openTemp(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.json")
	q, err := Open(path, testLogger())
	require.NoError(t, err)
	return q, path
}

func TestOpen_MissingFileIsEmpty(t *testing.T) {
	q, _ := openTemp(t)
	assert.Equal(t, 0, q.Len())
	assert.Empty(t, q.PeekAll())
}

func TestOpen_EmptyFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	q, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_EnqueuePersistsInOrder(t *testing.T) {
	q, path := openTemp(t)

	require.NoError(t, q.Enqueue(event("evt_1", 100)))
	require.NoError(t, q.Enqueue(event("evt_2", 101)))
	require.NoError(t, q.Enqueue(event("evt_3", 102)))

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)

	got := reopened.PeekAll()
	require.Len(t, got, 3)
	assert.Equal(t, "evt_1", got[0].ID)
	assert.Equal(t, "evt_3", got[2].ID)
	assert.Equal(t, int64(3), reopened.Quantity())
}

func TestQueue_RejectsInvalidEvent(t *testing.T) {
	q, _ := openTemp(t)
	err := q.Enqueue(core.CountEvent{ID: "evt_1", Quantity: 1, DeviceID: "d"})
	assert.ErrorIs(t, err, core.ErrInvalidTimestamp)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_PeekAllDoesNotRemove(t *testing.T) {
	q, _ := openTemp(t)
	require.NoError(t, q.Enqueue(event("evt_1", 100)))

	snapshot := q.PeekAll()
	snapshot[0].ID = "mutated"

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "evt_1", q.PeekAll()[0].ID)
}

func TestQueue_RemoveSubsetByID(t *testing.T) {
	q, path := openTemp(t)
	for i := 1; i <= 4; i++ {
		require.NoError(t, q.Enqueue(event(fmt.Sprintf("evt_%d", i), int64(100+i))))
	}

	removed, err := q.Remove([]core.CountEvent{event("evt_2", 102), event("evt_4", 104), event("evt_9", 1)})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	got := reopened.PeekAll()
	require.Len(t, got, 2)
	assert.Equal(t, "evt_1", got[0].ID)
	assert.Equal(t, "evt_3", got[1].ID)

	removed, err = q.Remove(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestQueue_EventsEnqueuedDuringDrainSurviveRemove(t *testing.T) {
	q, _ := openTemp(t)
	require.NoError(t, q.Enqueue(event("evt_1", 100)))
	snapshot := q.PeekAll()

	require.NoError(t, q.Enqueue(event("evt_2", 101)))

	removed, err := q.Remove(snapshot)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, "evt_2", q.PeekAll()[0].ID)
}

func TestOpen_CorruptFileMovedAside(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"evt_1","timestamp":1`), 0o644))

	q, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 0, q.Len())

	matches, err := filepath.Glob(path + ".corrupt-*")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	kept, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(kept), "evt_1")

	// The queue keeps working after recovery
	require.NoError(t, q.Enqueue(event("evt_2", 100)))
	assert.Equal(t, 1, q.Len())
}

func TestOpen_DropsMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	content := `[
		{"id":"evt_1","timestamp":100,"amount":1,"device_id":"rpi4_1"},
		{"id":"evt_2","amount":1,"device_id":"rpi4_1"},
		"garbage",
		{"id":"evt_3","timestamp":102,"amount":0,"device_id":"rpi4_1"},
		{"id":"evt_1","timestamp":100,"amount":1,"device_id":"rpi4_1"},
		{"id":"evt_4","timestamp":103,"amount":2,"device_id":"rpi4_1"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	q, err := Open(path, testLogger())
	require.NoError(t, err)

	got := q.PeekAll()
	require.Len(t, got, 2)
	assert.Equal(t, "evt_1", got[0].ID)
	assert.Equal(t, "evt_4", got[1].ID)
	assert.Equal(t, 2, got[1].Quantity)
}

func TestOpen_ImportsLegacyRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	content := `[
		{"timestamp":100,"amount":1,"device_id":"rpi4_1"},
		{"timestamp":101,"device":"pico_1"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	q, err := Open(path, testLogger())
	require.NoError(t, err)

	got := q.PeekAll()
	require.Len(t, got, 2)
	assert.NotEmpty(t, got[0].ID)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Equal(t, "pico_1", got[1].DeviceID)
	assert.Equal(t, 1, got[1].Quantity)

	// Assigned IDs are written back so they stay stable
	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, got, reopened.PeekAll())
}

func TestQueue_InterruptedWriteKeepsPreviousState(t *testing.T) {
	q, path := openTemp(t)
	require.NoError(t, q.Enqueue(event("evt_1", 100)))

	// A crash mid-write leaves a truncated temp file next to the target
	dir := filepath.Dir(path)
	partial := filepath.Join(dir, ".queue-12345.tmp")
	require.NoError(t, os.WriteFile(partial, []byte(`[{"id":"evt_1","timest`), 0o644))

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	require.Equal(t, 1, reopened.Len())
	assert.Equal(t, "evt_1", reopened.PeekAll()[0].ID)

	_, err = os.Stat(partial)
	assert.True(t, os.IsNotExist(err), "leftover temp file should be removed")
}

func TestQueue_PersistFailureKeepsEventInMemory(t *testing.T) {
	q, path := openTemp(t)

	// A non-empty directory at the target path makes the rename fail
	require.NoError(t, os.MkdirAll(filepath.Join(path, "block"), 0o755))

	err := q.Enqueue(event("evt_1", 100))
	assert.ErrorIs(t, err, ErrPersist)
	assert.Equal(t, 1, q.Len())

	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, q.Flush())

	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.Len())
}

func TestQueue_FileIsJSONList(t *testing.T) {
	q, path := openTemp(t)
	require.NoError(t, q.Enqueue(event("evt_1", 100)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	require.NoError(t, json.Unmarshal(data, &records))
	require.Len(t, records, 1)
	assert.Equal(t, "evt_1", records[0]["id"])
	assert.Equal(t, float64(100), records[0]["timestamp"])
	assert.Equal(t, float64(1), records[0]["amount"])
	assert.Equal(t, "rpi4_1", records[0]["device_id"])
}

func TestQueue_ConcurrentEnqueue(t *testing.T) {
	q, path := openTemp(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, q.Enqueue(event(fmt.Sprintf("evt_%d", i), time.Now().Unix())))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 50, q.Len())
	reopened, err := Open(path, testLogger())
	require.NoError(t, err)
	assert.Equal(t, 50, reopened.Len())
}
