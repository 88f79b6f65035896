package core

import (
	"errors"
	"strings"
	"time"
)

// CountEvent represents one observed pass of an item in front of the sensor.
// Events are immutable once created; the ID doubles as the idempotency key
// the service uses to recognise a retried delivery.
type CountEvent struct {
	ID         string `json:"id"`
	OccurredAt int64  `json:"timestamp"` // unix seconds
	Quantity   int    `json:"amount"`
	DeviceID   string `json:"device_id"`
}

// LogEntry is a CountEvent as stored by the aggregation service
type LogEntry struct {
	ID        int64     `json:"id"`
	EventID   string    `json:"event_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
	Amount    int       `json:"amount"`
	DeviceID  string    `json:"device_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats is the aggregate count plus derived environmental impact
type Stats struct {
	Total int64   `json:"total"`
	Soil  float64 `json:"soil"`
	Water float64 `json:"water"`
}

// Validation errors
var (
	ErrInvalidEventID   = errors.New("event ID cannot be empty")
	ErrInvalidTimestamp = errors.New("timestamp is required")
	ErrInvalidQuantity  = errors.New("amount must be at least 1")
	ErrInvalidDeviceID  = errors.New("device_id is required")
)

// NewCountEvent builds a single-item event for the given device
func NewCountEvent(id, deviceID string, at time.Time) CountEvent {
	return CountEvent{
		ID:         id,
		OccurredAt: at.Unix(),
		Quantity:   1,
		DeviceID:   deviceID,
	}
}

// Validate validates a CountEvent
func (e CountEvent) Validate() error {
	if e.ID == "" {
		return ErrInvalidEventID
	}
	if e.OccurredAt <= 0 {
		return ErrInvalidTimestamp
	}
	if e.Quantity < 1 {
		return ErrInvalidQuantity
	}
	if strings.TrimSpace(e.DeviceID) == "" {
		return ErrInvalidDeviceID
	}
	return nil
}

// Validate validates a LogEntry before it is stored.
// EventID is optional: devices predating idempotency keys omit it.
func (l *LogEntry) Validate() error {
	if l.Timestamp <= 0 {
		return ErrInvalidTimestamp
	}
	if l.Amount < 1 {
		return ErrInvalidQuantity
	}
	if strings.TrimSpace(l.DeviceID) == "" {
		return ErrInvalidDeviceID
	}
	return nil
}

// TotalQuantity sums the quantity of the given events
func TotalQuantity(events []CountEvent) int64 {
	var total int64
	for _, e := range events {
		total += int64(e.Quantity)
	}
	return total
}
