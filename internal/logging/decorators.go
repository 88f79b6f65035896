package logging

import (
	"context"
	"log/slog"
	"time"

	"batterycounter/internal/agent"
	"batterycounter/internal/core"
)

// RemoteClientLogger wraps an agent.RemoteClient and logs all method calls
type RemoteClientLogger struct {
	client agent.RemoteClient
	logger *slog.Logger
}

// NewRemoteClientLogger creates a new logging decorator for the remote client
func NewRemoteClientLogger(client agent.RemoteClient, logger *slog.Logger) agent.RemoteClient {
	return &RemoteClientLogger{
		client: client,
		logger: logger.With("interface", "RemoteClient"),
	}
}

func (l *RemoteClientLogger) PostLog(ctx context.Context, event core.CountEvent) (*agent.LogReceipt, error) {
	start := time.Now()
	l.logger.Debug("PostLog called",
		"event_id", event.ID,
		"timestamp", event.OccurredAt,
		"amount", event.Quantity)

	receipt, err := l.client.PostLog(ctx, event)
	duration := time.Since(start)

	if err != nil {
		l.logger.Warn("PostLog failed",
			"event_id", event.ID,
			"permanent", agent.IsPermanent(err),
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("PostLog completed",
		"event_id", event.ID,
		"duplicate", receipt.Duplicate,
		"duration", duration)

	return receipt, nil
}

func (l *RemoteClientLogger) GetStats(ctx context.Context) (*core.Stats, error) {
	start := time.Now()
	l.logger.Debug("GetStats called")

	stats, err := l.client.GetStats(ctx)
	duration := time.Since(start)

	if err != nil {
		l.logger.Warn("GetStats failed",
			"duration", duration,
			"error", err)
		return nil, err
	}

	l.logger.Debug("GetStats completed",
		"total", stats.Total,
		"soil", stats.Soil,
		"water", stats.Water,
		"duration", duration)

	return stats, nil
}

// Ensure RemoteClientLogger implements agent.RemoteClient
var _ agent.RemoteClient = (*RemoteClientLogger)(nil)
