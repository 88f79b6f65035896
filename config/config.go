package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents the aggregation service configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Impact    ImpactConfig    `json:"impact"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite" (default) or "postgres"
	Path   string `json:"path"`   // sqlite file
	DSN    string `json:"dsn"`    // postgres connection string
}

// ImpactConfig holds the per-battery factors reported by /stats
type ImpactConfig struct {
	SoilPerBattery  float64 `json:"soil_per_battery"`
	WaterPerBattery float64 `json:"water_per_battery"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	// DeviceTokens enables bearer authentication on POST /log when non-empty
	DeviceTokens []DeviceToken `json:"device_tokens"`
}

// DeviceToken binds a bearer token to a device. Token is either the
// plain token or its bcrypt hash.
type DeviceToken struct {
	DeviceID string `json:"device_id"`
	Token    string `json:"token"`
}

// RateLimitConfig limits requests per client IP; RPS 0 disables it
type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// LoggingConfig selects log level and format
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver: DriverSQLite,
			Path:   "./counter.db",
		},
		Impact: ImpactConfig{
			SoilPerBattery:  0.02,
			WaterPerBattery: 0.15,
		},
		RateLimit: RateLimitConfig{
			RPS:   20,
			Burst: 40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port", ErrInvalidConfig)
	}

	switch c.Database.Driver {
	case "", DriverSQLite:
		c.Database.Driver = DriverSQLite
		if c.Database.Path == "" {
			return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("%w: database dsn is required for postgres", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown database driver %q", ErrInvalidConfig, c.Database.Driver)
	}

	if c.Impact.SoilPerBattery < 0 || c.Impact.WaterPerBattery < 0 {
		return fmt.Errorf("%w: impact factors must not be negative", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Security.DeviceTokens))
	for _, dt := range c.Security.DeviceTokens {
		if dt.DeviceID == "" || dt.Token == "" {
			return fmt.Errorf("%w: device tokens need device_id and token", ErrInvalidConfig)
		}
		if seen[dt.Token] {
			return fmt.Errorf("%w: duplicate device token for %s", ErrInvalidConfig, dt.DeviceID)
		}
		seen[dt.Token] = true
	}

	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		c.RateLimit.Burst = 1
	}

	return nil
}

// Load loads configuration from a JSON file over the defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for containerized deployments
func LoadFromEnv() (*Config, error) {
	defaults := Default()
	config := &Config{
		Server: ServerConfig{
			Host: getEnv("COUNTER_HOST", defaults.Server.Host),
			Port: getEnvInt("COUNTER_PORT", defaults.Server.Port),
		},
		Database: DatabaseConfig{
			Driver: getEnv("COUNTER_DB_DRIVER", defaults.Database.Driver),
			Path:   getEnv("COUNTER_DB_PATH", defaults.Database.Path),
			DSN:    getEnv("COUNTER_DB_DSN", ""),
		},
		Impact: ImpactConfig{
			SoilPerBattery:  getEnvFloat("COUNTER_SOIL_PER_BATTERY", defaults.Impact.SoilPerBattery),
			WaterPerBattery: getEnvFloat("COUNTER_WATER_PER_BATTERY", defaults.Impact.WaterPerBattery),
		},
		Security: SecurityConfig{
			DeviceTokens: parseDeviceTokens(os.Getenv("COUNTER_DEVICE_TOKENS")),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("COUNTER_RATE_LIMIT_RPS", defaults.RateLimit.RPS),
			Burst: getEnvInt("COUNTER_RATE_LIMIT_BURST", defaults.RateLimit.Burst),
		},
		Logging: LoggingConfig{
			Level:  getEnv("COUNTER_LOG_LEVEL", defaults.Logging.Level),
			Format: getEnv("COUNTER_LOG_FORMAT", defaults.Logging.Format),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// parseDeviceTokens reads "device:token,device:token"
func parseDeviceTokens(raw string) []DeviceToken {
	var tokens []DeviceToken
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		deviceID, token, _ := strings.Cut(pair, ":")
		tokens = append(tokens, DeviceToken{DeviceID: deviceID, Token: token})
	}
	return tokens
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
