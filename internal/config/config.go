// Package config provides configuration for the session server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the server configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Reasoning engine runner
	RunnerURL   string
	APIKey      string
	Model       string
	MaxTokens   int
	ToolVersion string
	TurnTimeout time.Duration

	// Sandbox
	SandboxImage        string
	SandboxWidth        int
	SandboxHeight       int
	FallbackDisplayPort int
	FallbackControlPort int

	// Event archive (optional)
	MongoURI      string
	MongoDatabase string

	// WebSocket settings
	WSWriteTimeout time.Duration
	WSReadTimeout  time.Duration
	WSPingInterval time.Duration
	WSSendBuffer   int
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:            getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:         getEnv("DATABASE_URL", "file:deskd.db?cache=shared&mode=rwc"),
		RunnerURL:           getEnv("RUNNER_URL", "http://localhost:8188"),
		APIKey:              getEnv("ANTHROPIC_API_KEY", ""),
		Model:               getEnv("MODEL", "claude-3-7-sonnet-20250219"),
		MaxTokens:           getEnvInt("MAX_TOKENS", 4096),
		ToolVersion:         getEnv("TOOL_VERSION", "computer_use_20250124"),
		TurnTimeout:         time.Duration(getEnvInt("TURN_TIMEOUT_MS", 600000)) * time.Millisecond,
		SandboxImage:        getEnv("SANDBOX_IMAGE", "ghcr.io/anthropics/anthropic-quickstarts:computer-use-demo-latest"),
		SandboxWidth:        getEnvInt("SANDBOX_WIDTH", 1024),
		SandboxHeight:       getEnvInt("SANDBOX_HEIGHT", 768),
		FallbackDisplayPort: getEnvInt("FALLBACK_DISPLAY_PORT", 6080),
		FallbackControlPort: getEnvInt("FALLBACK_CONTROL_PORT", 5901),
		MongoURI:            getEnv("MONGODB_URI", ""),
		MongoDatabase:       getEnv("MONGODB_DB", "deskd"),
		WSWriteTimeout:      time.Duration(getEnvInt("WS_WRITE_TIMEOUT_MS", 10000)) * time.Millisecond,
		WSReadTimeout:       time.Duration(getEnvInt("WS_READ_TIMEOUT_MS", 60000)) * time.Millisecond,
		WSPingInterval:      time.Duration(getEnvInt("WS_PING_INTERVAL_MS", 30000)) * time.Millisecond,
		WSSendBuffer:        getEnvInt("WS_SEND_BUFFER", 256),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
