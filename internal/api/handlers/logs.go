package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"batterycounter/internal/api/middleware"
	"batterycounter/internal/core"
	"batterycounter/internal/storage"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru"
)

// recentEventCacheSize bounds the in-memory set of recently seen event IDs
const recentEventCacheSize = 8192

// LogsHandler handles battery log ingestion and listing
type LogsHandler struct {
	storage storage.Storage
	recent  *lru.Cache
	logger  *slog.Logger
}

// NewLogsHandler creates a new logs handler
func NewLogsHandler(storage storage.Storage, logger *slog.Logger) *LogsHandler {
	recent, err := lru.New(recentEventCacheSize)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &LogsHandler{
		storage: storage,
		recent:  recent,
		logger:  logger,
	}
}

// CreateLogRequest is the body of POST /log. Device is the field name used
// by the first device firmware and is accepted in place of DeviceID.
type CreateLogRequest struct {
	Timestamp *int64 `json:"timestamp"`
	Amount    *int   `json:"amount"`
	DeviceID  string `json:"device_id"`
	Device    string `json:"device"`
	EventID   string `json:"event_id"`
}

// CreateLog stores one count event
// POST /log
func (h *LogsHandler) CreateLog(c *gin.Context) {
	var req CreateLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
			"code":  "INVALID_REQUEST",
		})
		return
	}

	if req.Timestamp == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "timestamp is required",
			"code":  "TIMESTAMP_REQUIRED",
		})
		return
	}

	entry := &core.LogEntry{
		EventID:   strings.TrimSpace(req.EventID),
		Timestamp: *req.Timestamp,
		Amount:    1,
		DeviceID:  strings.TrimSpace(req.DeviceID),
	}
	if req.Amount != nil {
		entry.Amount = *req.Amount
	}
	if entry.DeviceID == "" {
		entry.DeviceID = strings.TrimSpace(req.Device)
	}

	if authenticated := c.GetString(middleware.DeviceIDKey); authenticated != "" {
		if entry.DeviceID == "" {
			entry.DeviceID = authenticated
		}
		if entry.DeviceID != authenticated {
			c.JSON(http.StatusForbidden, gin.H{
				"error": "device_id does not match the authenticated device",
				"code":  "DEVICE_MISMATCH",
			})
			return
		}
	}

	if err := entry.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
			"code":  validationCode(err),
		})
		return
	}

	if entry.EventID != "" && h.recent.Contains(entry.EventID) {
		h.respondDuplicate(c, entry)
		return
	}

	stored, err := h.storage.InsertLog(c.Request.Context(), entry)
	if err != nil {
		h.logger.Error("Failed to store log",
			"component", "api",
			"device_id", entry.DeviceID,
			"event_id", entry.EventID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store log",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	if entry.EventID != "" {
		h.recent.Add(entry.EventID, struct{}{})
	}

	if !stored {
		h.respondDuplicate(c, entry)
		return
	}

	h.logger.Info("Battery logged",
		"component", "api",
		"device_id", entry.DeviceID,
		"event_id", entry.EventID,
		"amount", entry.Amount,
		"timestamp", entry.Timestamp,
	)

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *LogsHandler) respondDuplicate(c *gin.Context, entry *core.LogEntry) {
	h.logger.Info("Duplicate log ignored",
		"component", "api",
		"device_id", entry.DeviceID,
		"event_id", entry.EventID,
	)

	resp := gin.H{"ok": true, "duplicate": true}
	existing, err := h.storage.GetLogByEventID(c.Request.Context(), entry.EventID)
	if err == nil {
		resp["id"] = existing.ID
	} else if !errors.Is(err, storage.ErrNotFound) {
		h.logger.Warn("Failed to look up duplicate log",
			"component", "api",
			"event_id", entry.EventID,
			"error", err,
		)
	}
	c.JSON(http.StatusOK, resp)
}

func validationCode(err error) string {
	switch {
	case errors.Is(err, core.ErrInvalidTimestamp):
		return "INVALID_TIMESTAMP"
	case errors.Is(err, core.ErrInvalidQuantity):
		return "INVALID_AMOUNT"
	case errors.Is(err, core.ErrInvalidDeviceID):
		return "DEVICE_ID_REQUIRED"
	default:
		return "INVALID_REQUEST"
	}
}

// ListLogs returns stored logs, newest first.
// Query: device_id, since (unix seconds), limit.
// GET /log, GET /logs
func (h *LogsHandler) ListLogs(c *gin.Context) {
	filter := storage.LogFilter{DeviceID: c.Query("device_id")}

	if raw := c.Query("since"); raw != "" {
		since, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || since < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "since must be a unix timestamp",
				"code":  "INVALID_QUERY",
			})
			return
		}
		filter.Since = since
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
				"code":  "INVALID_QUERY",
			})
			return
		}
		filter.Limit = limit
	}

	entries, err := h.storage.ListLogs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list logs",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve logs",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	response := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		item := gin.H{
			"id":         entry.ID,
			"timestamp":  entry.Timestamp,
			"amount":     entry.Amount,
			"device_id":  entry.DeviceID,
			"created_at": entry.CreatedAt.UTC().Format(time.RFC3339),
		}
		if entry.EventID != "" {
			item["event_id"] = entry.EventID
		}
		response = append(response, item)
	}

	c.JSON(http.StatusOK, response)
}
