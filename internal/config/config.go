// Package config loads server configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime settings.
type Config struct {
	Port        string
	FrontendURL string
	Environment string

	DBPath string

	TranscriptEnabled bool
	TranscriptDir     string
	TranscriptQueue   int

	DefaultDistro string

	SpawnBackend      string
	DockerImagePrefix string
	DockerImage       string
	DockerRuntime     string

	SessionTTL      time.Duration
	ReapInterval    time.Duration
	CommandWait     time.Duration
	InputSettle     time.Duration
	OutputBufferMax int
	StartupCleanup  bool

	DefaultCols uint16
	DefaultRows uint16
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),
		Environment: getEnv("ENVIRONMENT", "development"),

		DBPath: getEnv("DB_PATH", "./data/termgate.db"),

		TranscriptEnabled: getEnvBool("TRANSCRIPT_ENABLED", true),
		TranscriptDir:     getEnv("LOG_DIR", "./logs"),
		TranscriptQueue:   getEnvInt("TRANSCRIPT_QUEUE", 1024),

		DefaultDistro: getEnv("DEFAULT_DISTRO", ""),

		SpawnBackend:      getEnv("SPAWN_BACKEND", "local"),
		DockerImagePrefix: getEnv("DOCKER_IMAGE_PREFIX", "termgate-"),
		DockerImage:       getEnv("DOCKER_IMAGE", "ubuntu:24.04"),
		DockerRuntime:     getEnv("DOCKER_RUNTIME", ""),

		SessionTTL:      getEnvDuration("SESSION_TTL", 0),
		ReapInterval:    getEnvDuration("REAP_INTERVAL", time.Minute),
		CommandWait:     getEnvDuration("COMMAND_WAIT", 500*time.Millisecond),
		InputSettle:     getEnvDuration("INPUT_SETTLE", 50*time.Millisecond),
		OutputBufferMax: getEnvInt("OUTPUT_BUFFER_MAX", 1<<20),
		StartupCleanup:  getEnvBool("STARTUP_CLEANUP", true),

		DefaultCols: uint16(getEnvInt("DEFAULT_COLS", 120)),
		DefaultRows: uint16(getEnvInt("DEFAULT_ROWS", 30)),
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid PORT %q: %w", c.Port, err)
	}
	switch c.SpawnBackend {
	case "local", "docker":
	default:
		return fmt.Errorf("invalid SPAWN_BACKEND %q: must be local or docker", c.SpawnBackend)
	}
	if c.OutputBufferMax <= 0 {
		return fmt.Errorf("OUTPUT_BUFFER_MAX must be positive, got %d", c.OutputBufferMax)
	}
	if c.CommandWait < 0 || c.InputSettle < 0 {
		return fmt.Errorf("COMMAND_WAIT and INPUT_SETTLE must not be negative")
	}
	if c.TranscriptEnabled && c.TranscriptDir == "" {
		return fmt.Errorf("LOG_DIR must be set when transcripts are enabled")
	}
	return nil
}

// IsDevelopment reports whether the server runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
