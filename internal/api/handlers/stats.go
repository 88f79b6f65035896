package handlers

import (
	"log/slog"
	"net/http"

	"batterycounter/internal/core"
	"batterycounter/internal/storage"

	"github.com/gin-gonic/gin"
)

// StatsHandler handles statistics requests
type StatsHandler struct {
	storage storage.Storage
	factors core.ImpactFactors
	logger  *slog.Logger
}

// NewStatsHandler creates a new stats handler
func NewStatsHandler(storage storage.Storage, factors core.ImpactFactors, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{
		storage: storage,
		factors: factors,
		logger:  logger,
	}
}

// GetStats returns the total battery count and its environmental impact
// GET /stats
func (h *StatsHandler) GetStats(c *gin.Context) {
	total, err := h.storage.TotalAmount(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to compute total",
			"component", "api",
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to retrieve statistics",
			"code":  "INTERNAL_ERROR",
		})
		return
	}

	c.JSON(http.StatusOK, h.factors.Derive(total))
}
