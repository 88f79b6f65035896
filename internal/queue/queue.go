// Package queue is the durable local backlog of captured events that have
// not yet been confirmed by the remote service. The whole backlog lives in
// one JSON file that is rewritten atomically on every change.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"batterycounter/internal/core"
	"batterycounter/internal/idgen"
)

var (
	// ErrPersist means the in-memory queue changed but could not be written
	// to disk. The change is kept in memory and the next write retries.
	ErrPersist = errors.New("queue persist failed")
)

const tempPattern = ".queue-*.tmp"

// Queue is an ordered, file-backed list of CountEvents
type Queue struct {
	mu     sync.Mutex
	path   string
	events []core.CountEvent
	dirty  bool
	logger *slog.Logger
	now    func() time.Time
}

// record is the on-disk shape. Device is the field name used by caches
// written before device_id existed.
type record struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Amount    *int   `json:"amount,omitempty"`
	DeviceID  string `json:"device_id"`
	Device    string `json:"device,omitempty"`
}

// Open loads the queue stored at path. A missing file yields an empty queue.
// An unreadable or corrupt file is moved aside and the queue starts empty.
func Open(path string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		path:   path,
		logger: logger.With("component", "queue"),
		now:    time.Now,
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}
	q.removeStaleTemps(dir)

	if err := q.load(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *Queue) load() error {
	data, err := os.ReadFile(q.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		q.quarantine(fmt.Errorf("read: %w", err))
		return nil
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		q.quarantine(fmt.Errorf("decode: %w", err))
		return nil
	}

	seen := make(map[string]bool, len(raw))
	for i, msg := range raw {
		ev, imported, err := decodeRecord(msg)
		if err != nil {
			q.logger.Warn("dropping malformed queue record",
				"index", i,
				"error", err,
			)
			q.dirty = true
			continue
		}
		if seen[ev.ID] {
			q.logger.Warn("dropping duplicate queue record", "event_id", ev.ID)
			q.dirty = true
			continue
		}
		seen[ev.ID] = true
		if imported {
			q.dirty = true
		}
		q.events = append(q.events, ev)
	}

	q.logger.Info("queue loaded",
		"path", q.path,
		"events", len(q.events),
	)

	// Rewrite once so imported IDs are stable across restarts
	if q.dirty {
		if err := q.persistLocked(); err != nil {
			q.logger.Warn("failed to rewrite queue after load", "error", err)
		}
	}
	return nil
}

func decodeRecord(msg json.RawMessage) (core.CountEvent, bool, error) {
	var r record
	if err := json.Unmarshal(msg, &r); err != nil {
		return core.CountEvent{}, false, err
	}

	imported := false
	ev := core.CountEvent{
		ID:         r.ID,
		OccurredAt: r.Timestamp,
		Quantity:   1,
		DeviceID:   r.DeviceID,
	}
	if r.Amount != nil {
		ev.Quantity = *r.Amount
	}
	if ev.DeviceID == "" && r.Device != "" {
		ev.DeviceID = r.Device
		imported = true
	}
	if ev.ID == "" {
		ev.ID = idgen.NewEvent()
		imported = true
	}
	if err := ev.Validate(); err != nil {
		return core.CountEvent{}, false, err
	}
	return ev, imported, nil
}

// quarantine moves an unusable queue file aside so it can be inspected
func (q *Queue) quarantine(cause error) {
	aside := fmt.Sprintf("%s.corrupt-%d", q.path, q.now().Unix())
	if err := os.Rename(q.path, aside); err != nil {
		q.logger.Error("queue file unusable and could not be moved aside",
			"path", q.path,
			"cause", cause,
			"error", err,
		)
		return
	}
	q.logger.Error("queue file unusable, starting empty",
		"path", q.path,
		"moved_to", aside,
		"cause", cause,
	)
}

func (q *Queue) removeStaleTemps(dir string) {
	matches, err := filepath.Glob(filepath.Join(dir, tempPattern))
	if err != nil {
		return
	}
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			q.logger.Debug("removed leftover temp file", "path", m)
		}
	}
}

// Enqueue appends ev and persists the queue before returning. On a persist
// failure the event stays queued in memory and an ErrPersist error is
// returned.
func (q *Queue) Enqueue(ev core.CountEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.events = append(q.events, ev)
	q.dirty = true
	return q.persistLocked()
}

// PeekAll returns a copy of the queued events, oldest first
func (q *Queue) PeekAll() []core.CountEvent {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]core.CountEvent, len(q.events))
	copy(out, q.events)
	return out
}

// Remove deletes the given events by ID and persists. Events not present
// are ignored. It returns how many events were removed.
func (q *Queue) Remove(events []core.CountEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(events))
	for _, ev := range events {
		drop[ev.ID] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.events[:0:0]
	removed := 0
	for _, ev := range q.events {
		if _, ok := drop[ev.ID]; ok {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	if removed == 0 {
		return 0, nil
	}
	q.events = kept
	q.dirty = true
	return removed, q.persistLocked()
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Quantity returns the summed quantity of queued events
func (q *Queue) Quantity() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return core.TotalQuantity(q.events)
}

// Path returns the backing file path
func (q *Queue) Path() string {
	return q.path
}

// Flush retries a pending write left by an earlier persist failure
func (q *Queue) Flush() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.dirty {
		return nil
	}
	return q.persistLocked()
}

// persistLocked writes the queue to a temp file in the same directory,
// fsyncs it and renames it over the target. q.mu must be held.
func (q *Queue) persistLocked() error {
	records := make([]record, len(q.events))
	for i, ev := range q.events {
		amount := ev.Quantity
		records[i] = record{
			ID:        ev.ID,
			Timestamp: ev.OccurredAt,
			Amount:    &amount,
			DeviceID:  ev.DeviceID,
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}

	if err := writeAtomic(q.path, data); err != nil {
		q.logger.Error("failed to persist queue",
			"path", q.path,
			"events", len(q.events),
			"error", err,
		)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	q.dirty = false
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	// Make the rename itself durable
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
