// Package config reads process configuration from the environment and the
// governance profile from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// Config holds process configuration.
type Config struct {
	Store         string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ProfilePath   string
	LogLevel      string
	LogFormat     string
	OTelEnabled   bool
	OTelEndpoint  string
}

// Load loads configuration from environment variables.
func Load() *Config {
	store := strings.ToLower(os.Getenv("TAHU_STORE"))
	if store == "" {
		store = StoreSQLite
	}

	dbURL := os.Getenv("TAHU_DATABASE_URL")
	if dbURL == "" {
		dbURL = "file:tahu.db"
	}

	redisAddr := os.Getenv("TAHU_REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	// An unparsable index falls back to 0.
	redisDB, _ := strconv.Atoi(os.Getenv("TAHU_REDIS_DB"))

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	if logFormat == "" {
		logFormat = "text"
	}

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	return &Config{
		Store:         store,
		DatabaseURL:   dbURL,
		RedisAddr:     redisAddr,
		RedisPassword: os.Getenv("TAHU_REDIS_PASSWORD"),
		RedisDB:       redisDB,
		ProfilePath:   os.Getenv("TAHU_PROFILE"),
		LogLevel:      logLevel,
		LogFormat:     logFormat,
		OTelEnabled:   os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:  otelEndpoint,
	}
}

// Validate rejects unknown store backends and log settings.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreSQLite, StorePostgres, StoreRedis:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
