// Package config loads server settings from environment variables, with an
// optional YAML file for the rate-limit budgets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sprintpoker/sprintpoker/internal/ratelimit"
	"github.com/sprintpoker/sprintpoker/internal/rooms"
)

// Config holds the full server configuration.
type Config struct {
	Port     string
	LogLevel string

	Backend  rooms.Backend
	RedisURL string

	// NATSURL is empty when the instance runs standalone without the
	// cross-instance broadcast bridge.
	NATSURL string

	RoomTTL       time.Duration
	SweepInterval time.Duration

	RateLimit ratelimit.Config
}

// fileConfig is the optional YAML overlay (SPRINTPOKER_CONFIG). Only the
// tuning knobs live here; connection settings stay in the environment.
type fileConfig struct {
	RateLimit struct {
		ConnPerSecond int `yaml:"conn_per_second"`
		IPPerSecond   int `yaml:"ip_per_second"`
	} `yaml:"rate_limit"`
	RoomTTLHours         int `yaml:"room_ttl_hours"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// Load reads the configuration from the environment, applying the YAML
// overlay first when SPRINTPOKER_CONFIG points at a file.
func Load() (Config, error) {
	cfg := Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		RedisURL:      getEnv("REDIS_URL", ""),
		NATSURL:       getEnv("NATS_URL", ""),
		RoomTTL:       time.Duration(getEnvAsInt("ROOM_TTL_HOURS", 24)) * time.Hour,
		SweepInterval: time.Duration(getEnvAsInt("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		RateLimit: ratelimit.Config{
			ConnCapacity:   getEnvAsInt("RATE_LIMIT_CONN_PER_SECOND", 5),
			IPCapacity:     getEnvAsInt("RATE_LIMIT_IP_PER_SECOND", 8),
			RefillInterval: time.Second,
		},
	}

	switch backend := getEnv("ROOM_BACKEND", "memory"); backend {
	case "memory":
		cfg.Backend = rooms.BackendMemory
	case "redis":
		cfg.Backend = rooms.BackendRedis
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("ROOM_BACKEND=redis requires REDIS_URL")
		}
	default:
		return Config{}, fmt.Errorf("unknown ROOM_BACKEND %q", backend)
	}

	if path := os.Getenv("SPRINTPOKER_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if fc.RateLimit.ConnPerSecond > 0 {
		c.RateLimit.ConnCapacity = fc.RateLimit.ConnPerSecond
	}
	if fc.RateLimit.IPPerSecond > 0 {
		c.RateLimit.IPCapacity = fc.RateLimit.IPPerSecond
	}
	if fc.RoomTTLHours > 0 {
		c.RoomTTL = time.Duration(fc.RoomTTLHours) * time.Hour
	}
	if fc.SweepIntervalSeconds > 0 {
		c.SweepInterval = time.Duration(fc.SweepIntervalSeconds) * time.Second
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
