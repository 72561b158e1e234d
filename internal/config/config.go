// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds the daemon configuration. All values come from BOOKSCAN_*
// environment variables with sensible container defaults.
type Config struct {
	ListenAddr string // BOOKSCAN_LISTEN (default ":8080")
	DataDir    string // BOOKSCAN_DATA (default "/data")
	LogLevel   string // BOOKSCAN_LOG_LEVEL (default "info")

	// CORS origins for the control panel UI. Empty means permissive
	// development defaults.
	AllowedOrigins []string // BOOKSCAN_ALLOWED_ORIGINS (comma separated)

	// Rate limit for mutating control endpoints, requests per window per IP.
	RateLimitRequests int           // BOOKSCAN_RATE_LIMIT (default 30)
	RateLimitWindow   time.Duration // fixed at one minute

	// Upstream Drive API request budget, requests per second.
	DriveRPS float64 // BOOKSCAN_DRIVE_RPS (default 8)
}

// FromEnv builds a Config from the environment.
func FromEnv() Config {
	return Config{
		ListenAddr:        ParseString("BOOKSCAN_LISTEN", ":8080"),
		DataDir:           ParseString("BOOKSCAN_DATA", "/data"),
		LogLevel:          ParseString("BOOKSCAN_LOG_LEVEL", "info"),
		AllowedOrigins:    ParseStringSlice("BOOKSCAN_ALLOWED_ORIGINS", nil),
		RateLimitRequests: ParseInt("BOOKSCAN_RATE_LIMIT", 30),
		RateLimitWindow:   time.Minute,
		DriveRPS:          ParseFloat("BOOKSCAN_DRIVE_RPS", 8),
	}
}

// Validate checks the configuration for values the daemon cannot start with.
func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is empty")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("data directory %q must be absolute", c.DataDir)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.RateLimitRequests)
	}
	if c.DriveRPS <= 0 {
		return fmt.Errorf("drive request budget must be positive, got %g", c.DriveRPS)
	}
	return nil
}

// EnsureDataDir creates the data directory if it does not exist.
func (c Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// ParseInt reads an integer environment variable or returns the default.
func ParseInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ParseFloat reads a float environment variable or returns the default.
func ParseFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
