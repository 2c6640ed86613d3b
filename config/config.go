package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the paper-trading engine.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Logging   LoggingConfig   `json:"logging"`
	Engine    EngineConfig    `json:"engine"`
	EventBus  EventBusConfig  `json:"event_bus"`
	PriceFeed PriceFeedConfig `json:"price_feed"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis connection settings. Redis is optional; when
// disabled the engine skips the quote cache and the live status mirror.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// LoggingConfig controls zerolog output.
type LoggingConfig struct {
	Level   string `json:"level"`   // debug, info, warn, error
	Console bool   `json:"console"` // human-readable console writer instead of JSON
}

// EngineConfig holds the global timing knobs of the trading engine.
type EngineConfig struct {
	TickTimeout          time.Duration `json:"tick_timeout"`
	SourceTimeout        time.Duration `json:"source_timeout"`
	PriceTimeout         time.Duration `json:"price_timeout"`
	OutcomeBackfillEvery time.Duration `json:"outcome_backfill_every"`
	MarketCloseJobAt     string        `json:"market_close_job_at"` // "HH:MM"
	OvernightFeesAt      string        `json:"overnight_fees_at"`   // "HH:MM"
	JobTimezone          string        `json:"job_timezone"`
	// DefaultWatchlist is the shared symbol universe traders fall back to
	// when their personality enables use_full_watchlist.
	DefaultWatchlist []string `json:"default_watchlist"`
}

// EventBusConfig holds event fan-out tuning.
type EventBusConfig struct {
	HeartbeatInterval  time.Duration `json:"heartbeat_interval"`
	BackpressureWindow time.Duration `json:"backpressure_window"`
	SubscriberBuffer   int           `json:"subscriber_buffer"`
}

// PriceFeedConfig controls the market data source.
type PriceFeedConfig struct {
	QuoteCacheTTL time.Duration `json:"quote_cache_ttl"`
}

// Load builds a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvInt("SERVER_PORT", 8090),
			ProductionMode: getEnvBool("PRODUCTION_MODE", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "papertrader"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "papertrader"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level:   getEnv("LOG_LEVEL", "info"),
			Console: getEnvBool("LOG_CONSOLE", false),
		},
		Engine: EngineConfig{
			TickTimeout:          getEnvDuration("ENGINE_TICK_TIMEOUT", 30*time.Second),
			SourceTimeout:        getEnvDuration("ENGINE_SOURCE_TIMEOUT", 5*time.Second),
			PriceTimeout:         getEnvDuration("ENGINE_PRICE_TIMEOUT", 10*time.Second),
			OutcomeBackfillEvery: getEnvDuration("ENGINE_OUTCOME_BACKFILL_EVERY", time.Hour),
			MarketCloseJobAt:     getEnv("ENGINE_MARKET_CLOSE_JOB_AT", "17:45"),
			OvernightFeesAt:      getEnv("ENGINE_OVERNIGHT_FEES_AT", "17:40"),
			JobTimezone:          getEnv("ENGINE_JOB_TIMEZONE", "Europe/Berlin"),
			DefaultWatchlist: getEnvList("ENGINE_DEFAULT_WATCHLIST",
				[]string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "SAP", "SIE", "ALV"}),
		},
		EventBus: EventBusConfig{
			HeartbeatInterval:  getEnvDuration("EVENTS_HEARTBEAT_INTERVAL", 5*time.Second),
			BackpressureWindow: getEnvDuration("EVENTS_BACKPRESSURE_WINDOW", 4*time.Second),
			SubscriberBuffer:   getEnvInt("EVENTS_SUBSCRIBER_BUFFER", 64),
		},
		PriceFeed: PriceFeedConfig{
			QuoteCacheTTL: getEnvDuration("FEED_QUOTE_CACHE_TTL", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Engine.TickTimeout <= 0 {
		return fmt.Errorf("tick timeout must be positive")
	}
	if c.Engine.SourceTimeout <= 0 || c.Engine.SourceTimeout > c.Engine.TickTimeout {
		return fmt.Errorf("source timeout must be positive and below the tick timeout")
	}
	if _, err := time.LoadLocation(c.Engine.JobTimezone); err != nil {
		return fmt.Errorf("invalid job timezone %q: %w", c.Engine.JobTimezone, err)
	}
	for _, hhmm := range []string{c.Engine.MarketCloseJobAt, c.Engine.OvernightFeesAt} {
		if _, err := time.Parse("15:04", hhmm); err != nil {
			return fmt.Errorf("invalid HH:MM time %q: %w", hhmm, err)
		}
	}
	if c.EventBus.SubscriberBuffer < 1 {
		return fmt.Errorf("subscriber buffer must be at least 1")
	}
	if len(c.Engine.DefaultWatchlist) == 0 {
		return fmt.Errorf("default watchlist must not be empty")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
