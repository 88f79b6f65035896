package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"batterycounter/internal/core"
)

// LogReceipt is the service's answer to POST /log
type LogReceipt struct {
	OK        bool `json:"ok"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// RemoteClient talks to the aggregation service
type RemoteClient interface {
	// PostLog delivers one event
	PostLog(ctx context.Context, event core.CountEvent) (*LogReceipt, error)
	// GetStats fetches the current aggregate
	GetStats(ctx context.Context) (*core.Stats, error)
}

// APIError is returned for any non-2xx response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Permanent reports whether the service rejected this particular event as
// invalid. Other client-class codes (401, 403, 404, 405, 429, ...) refuse
// every event alike, so they are treated like an unavailable service.
func (e *APIError) Permanent() bool {
	return e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity
}

// IsPermanent reports whether err is a per-item rejection that will never
// be accepted. Everything else is retried on a later tick.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Permanent()
	}
	return false
}

// logRequest is the POST /log body
type logRequest struct {
	EventID   string `json:"event_id"`
	Timestamp int64  `json:"timestamp"`
	Amount    int    `json:"amount"`
	DeviceID  string `json:"device_id"`
}

// HTTPClient implements RemoteClient over HTTP
type HTTPClient struct {
	logURL     string
	statsURL   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPClient creates a new HTTP client for the aggregation service
func NewHTTPClient(logURL, statsURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		logURL:   logURL,
		statsURL: statsURL,
		token:    token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With("component", "remote-client"),
	}
}

// PostLog sends one event to the log endpoint
func (c *HTTPClient) PostLog(ctx context.Context, event core.CountEvent) (*LogReceipt, error) {
	payload, err := json.Marshal(logRequest{
		EventID:   event.ID,
		Timestamp: event.OccurredAt,
		Amount:    event.Quantity,
		DeviceID:  event.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.logURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	receipt := &LogReceipt{OK: true}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, receipt); err != nil {
			// A 2xx means the event is stored even if the body is odd
			c.logger.Debug("unparseable log response", "error", err)
			receipt = &LogReceipt{OK: true}
		}
	}
	return receipt, nil
}

// GetStats fetches the aggregate from the stats endpoint
func (c *HTTPClient) GetStats(ctx context.Context) (*core.Stats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var stats core.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if stats.Total < 0 {
		return nil, fmt.Errorf("invalid stats: negative total %d", stats.Total)
	}
	return &stats, nil
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}
	return body, nil
}

// Ensure HTTPClient implements RemoteClient
var _ RemoteClient = (*HTTPClient)(nil)
