package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const DefaultDailyAPIURL = "https://api.daily.co/v1"

type Config struct {
	Port     string
	LogLevel string
	AuthKey  string

	// Empty RedisURL leaves the realtime client unconfigured.
	RedisURL string

	DailyAPIKey          string
	DailyAPIURL          string
	DailyMaxParticipants int

	DatabaseURL string

	CursorThrottle time.Duration
	CursorTTL      time.Duration
	ClickTTL       time.Duration

	PresenceTTL   time.Duration
	PresenceSweep string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("[CONFIG] No .env file found, relying on environment")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		AuthKey:              getEnv("AUTH_KEY", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		DailyAPIKey:          getEnv("DAILY_API_KEY", ""),
		DailyAPIURL:          getEnv("DAILY_API_URL", DefaultDailyAPIURL),
		DailyMaxParticipants: getEnvInt("DAILY_MAX_PARTICIPANTS", 50),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		CursorThrottle:       getEnvDuration("CURSOR_THROTTLE", 50*time.Millisecond),
		CursorTTL:            getEnvDuration("CURSOR_TTL", 3*time.Second),
		ClickTTL:             getEnvDuration("CLICK_TTL", 5*time.Second),
		PresenceTTL:          getEnvDuration("PRESENCE_TTL", 30*time.Second),
		PresenceSweep:        getEnv("PRESENCE_SWEEP", "@every 10s"),
	}
}

func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid port: %q", c.Port)
	}
	if c.CursorThrottle < 0 || c.CursorTTL < 0 || c.ClickTTL < 0 || c.PresenceTTL < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	if c.DailyMaxParticipants <= 0 {
		return fmt.Errorf("invalid max participants: %d", c.DailyMaxParticipants)
	}
	if c.PresenceTTL > 0 && c.PresenceSweep == "" {
		return fmt.Errorf("presence sweep schedule is required when PRESENCE_TTL is set")
	}
	return nil
}

// HeartbeatInterval is how often a connection refreshes its presence so the
// sweep never sees it as stale. Zero when expiry is disabled.
func (c *Config) HeartbeatInterval() time.Duration {
	if c.PresenceTTL <= 0 {
		return 0
	}
	return c.PresenceTTL / 3
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("[CONFIG] Invalid duration, using default", "key", key, "value", value, "default", fallback)
	}
	return fallback
}
