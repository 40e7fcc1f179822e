// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration shared by the binaries. Empty
// backend addresses disable the corresponding backend.
type Config struct {
	ListenAddr     string        // LISTEN_ADDR
	ServerName     string        // SERVER_NAME, hostname when empty
	MaxConnections int           // MAX_CONNECTIONS, WebSocket cap
	ReadTimeout    time.Duration // READ_TIMEOUT
	WriteTimeout   time.Duration // WRITE_TIMEOUT

	NATSURL     string // NATS_URL
	RedisAddr   string // REDIS_ADDR
	DatabaseURL string // DATABASE_URL

	RulesetPath   string // RULESET_PATH, embedded rules when empty
	MaxTextLength int    // MAX_TEXT_LENGTH, in characters
	ContextWidth  int    // CONTEXT_WIDTH
	MatchWorkers  int    // MATCH_WORKERS

	CacheTTL   time.Duration // CACHE_TTL
	RateLimit  int           // RATE_LIMIT, analyses per window per client
	RateWindow time.Duration // RATE_WINDOW

	LogLevel  string // LOG_LEVEL
	LogFormat string // LOG_FORMAT, json or text
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		MaxConnections: 10000,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		NATSURL:        "nats://localhost:4222",
		RedisAddr:      "localhost:6379",
		MaxTextLength:  10000,
		ContextWidth:   40,
		MatchWorkers:   1,
		CacheTTL:       10 * time.Minute,
		RateLimit:      30,
		RateWindow:     time.Minute,
		LogLevel:       "info",
		LogFormat:      "json",
	}
}

// Load reads .env (if present) then environment variables over Default.
func Load() (*Config, error) {
	// Best-effort: a missing .env is normal outside development.
	_ = godotenv.Load()

	d := Default()
	cfg := &Config{
		ListenAddr:     getenv("LISTEN_ADDR", d.ListenAddr),
		ServerName:     getenv("SERVER_NAME", hostname()),
		MaxConnections: getenvInt("MAX_CONNECTIONS", d.MaxConnections),
		ReadTimeout:    getenvDuration("READ_TIMEOUT", d.ReadTimeout),
		WriteTimeout:   getenvDuration("WRITE_TIMEOUT", d.WriteTimeout),
		NATSURL:        getenvAllowEmpty("NATS_URL", d.NATSURL),
		RedisAddr:      getenvAllowEmpty("REDIS_ADDR", d.RedisAddr),
		DatabaseURL:    getenv("DATABASE_URL", d.DatabaseURL),
		RulesetPath:    getenv("RULESET_PATH", d.RulesetPath),
		MaxTextLength:  getenvInt("MAX_TEXT_LENGTH", d.MaxTextLength),
		ContextWidth:   getenvInt("CONTEXT_WIDTH", d.ContextWidth),
		MatchWorkers:   getenvInt("MATCH_WORKERS", d.MatchWorkers),
		CacheTTL:       getenvDuration("CACHE_TTL", d.CacheTTL),
		RateLimit:      getenvInt("RATE_LIMIT", d.RateLimit),
		RateWindow:     getenvDuration("RATE_WINDOW", d.RateWindow),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", d.LogLevel)),
		LogFormat:      strings.ToLower(getenv("LOG_FORMAT", d.LogFormat)),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxTextLength <= 0:
		return fmt.Errorf("config: MAX_TEXT_LENGTH must be positive, got %d", c.MaxTextLength)
	case c.ContextWidth < 0:
		return fmt.Errorf("config: CONTEXT_WIDTH must not be negative, got %d", c.ContextWidth)
	case c.MatchWorkers <= 0:
		return fmt.Errorf("config: MATCH_WORKERS must be positive, got %d", c.MatchWorkers)
	case c.RateLimit <= 0 || c.RateWindow <= 0:
		return fmt.Errorf("config: RATE_LIMIT and RATE_WINDOW must be positive")
	case c.MaxConnections <= 0:
		return fmt.Errorf("config: MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("config: LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "modserver"
	}
	return name
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getenvAllowEmpty lets an explicitly empty variable disable a backend.
func getenvAllowEmpty(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
