package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

var scannerPrefixes = []string{
	"/admin",
	"/phpmyadmin",
	"/wp-admin",
	"/wp-login",
	"/.env",
	"/.git",
	"/config",
	"/backup",
	"/debug",
	"/.aws",
	"/console",
	"/actuator",
	"/manager",
	"/cgi-bin",
	"/.well-known",
	"/robots.txt",
	"/favicon.ico",
	"/sitemap.xml",
}

var scannerExtensions = []string{
	".php", ".asp", ".aspx", ".jsp", ".bak", ".old", ".sql", ".zip", ".tar", ".gz",
}

// NoiseFilter suppresses access logs for vulnerability-scanner traffic the
// public endpoint attracts. It must run after Logging in the chain.
func NoiseFilter(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Authenticated devices are always logged
		if c.GetString(DeviceIDKey) != "" {
			return
		}

		status := c.Writer.Status()
		path := c.Request.URL.Path
		noisy := status == http.StatusMethodNotAllowed ||
			(status >= 400 && isScannerPath(path))
		if !noisy {
			return
		}

		c.Set(SkipLoggingKey, true)
		logger.Debug("Scanner request filtered",
			"component", "api",
			"path", path,
			"method", c.Request.Method,
			"status", status,
			"client_ip", c.ClientIP())
	}
}

// isScannerPath checks if a path is commonly used by scanners
func isScannerPath(path string) bool {
	lower := strings.ToLower(path)
	for _, prefix := range scannerPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	for _, ext := range scannerExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
