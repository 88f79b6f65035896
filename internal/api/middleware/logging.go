package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// SkipLoggingKey marks a request that must not produce an access log line
const SkipLoggingKey = "skip_logging"

// Logging logs HTTP requests with structured fields. Server errors are
// logged at error level, client errors at warn.
func Logging(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		// Process request
		c.Next()

		if c.GetBool(SkipLoggingKey) {
			return
		}

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		level := slog.LevelInfo
		switch {
		case statusCode >= 500:
			level = slog.LevelError
		case statusCode >= 400:
			level = slog.LevelWarn
		}

		attrs := []any{
			"component", "api",
			"request_id", c.GetString(RequestIDKey),
			"method", c.Request.Method,
			"path", path,
			"status", statusCode,
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		}
		if deviceID := c.GetString(DeviceIDKey); deviceID != "" {
			attrs = append(attrs, "device_id", deviceID)
		}
		if errorMessage := c.Errors.ByType(gin.ErrorTypePrivate).String(); errorMessage != "" {
			attrs = append(attrs, "error", errorMessage)
		}

		logger.Log(c.Request.Context(), level, "HTTP request", attrs...)
	}
}
