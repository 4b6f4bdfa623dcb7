package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	NodeEnv   string
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	Realtime  RealtimeConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       string
	Username   string
	Password   string
	Database   string
	Alter      bool
	SQLitePath string
}

// RealtimeConfig holds settings for the device channel and command bridge
type RealtimeConfig struct {
	CommandTimeout  time.Duration
	ActionLogBuffer int
	SendBuffer      int
	AllowedOrigins  []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	timeout, err := time.ParseDuration(getEnv("COMMAND_TIMEOUT", "30s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("invalid COMMAND_TIMEOUT: %q", os.Getenv("COMMAND_TIMEOUT"))
	}

	return &Config{
		NodeEnv:   getEnv("NODE_ENV", "development"),
		Port:      getEnv("PORT", "3001"),
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "postgres"),
			Host:       getEnv("PG_HOST", "localhost"),
			Port:       getEnv("PG_PORT", "5432"),
			Username:   getEnv("PG_USERNAME", "postgres"),
			Password:   os.Getenv("PG_PASSWORD"),
			Database:   getEnv("PG_DATABASE", "dongled"),
			Alter:      getEnv("DB_ALTER", "false") == "true",
			SQLitePath: getEnv("SQLITE_PATH", "dongled.db"),
		},
		Realtime: RealtimeConfig{
			CommandTimeout:  timeout,
			ActionLogBuffer: getEnvInt("ACTION_LOG_BUFFER", 1024),
			SendBuffer:      getEnvInt("WS_SEND_BUFFER", 256),
			AllowedOrigins:  splitList(os.Getenv("ALLOW_ORIGINS")),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
