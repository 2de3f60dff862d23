package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Cadence server.
type Config struct {
	Server     ServerConfig
	Redis      RedisConfig
	AMQP       AMQPConfig
	Generation GenerationConfig
	RateLimit  RateLimitConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// RedisConfig is optional; with no URL, rate-limit counters stay in memory.
type RedisConfig struct {
	URL string
}

// AMQPConfig is optional; with no URL, terminal events are not published.
type AMQPConfig struct {
	URL      string
	Exchange string
}

type GenerationConfig struct {
	TickInterval   time.Duration
	TotalDuration  time.Duration
	SnapshotTTL    time.Duration
	FaultInjection bool
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// Development reports whether the server runs in development mode.
func (s ServerConfig) Development() bool {
	return s.Env == "development"
}

// Load reads .env from the working directory if present, then the
// environment, and returns a validated Config.
func Load() (*Config, error) {
	return LoadFiles(".env")
}

// LoadFiles is Load with explicit dotenv files. Missing files are skipped and
// variables already set in the environment are never overridden.
func LoadFiles(files ...string) (*Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", f, err)
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CADENCE_PORT", 3000),
			Env:  envString("CADENCE_ENV", "development"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AMQP: AMQPConfig{
			URL:      os.Getenv("AMQP_URL"),
			Exchange: envString("AMQP_EXCHANGE", "cadence.generations"),
		},
		Generation: GenerationConfig{
			TickInterval:   envDuration("GENERATION_TICK_INTERVAL", 100*time.Millisecond),
			TotalDuration:  envDuration("GENERATION_TOTAL_DURATION", 8*time.Second),
			SnapshotTTL:    envDuration("GENERATION_SNAPSHOT_TTL", 30*time.Minute),
			FaultInjection: envBool("FAULT_INJECTION_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		CORS: CORSConfig{
			AllowedOrigins: envList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("CADENCE_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://, got %q", c.Redis.URL)
	}

	if c.AMQP.URL != "" {
		if !strings.HasPrefix(c.AMQP.URL, "amqp://") && !strings.HasPrefix(c.AMQP.URL, "amqps://") {
			return fmt.Errorf("AMQP_URL must start with amqp:// or amqps://")
		}
		if c.AMQP.Exchange == "" {
			return fmt.Errorf("AMQP_EXCHANGE is required when AMQP_URL is set")
		}
	}

	if c.Generation.TickInterval <= 0 {
		return fmt.Errorf("GENERATION_TICK_INTERVAL must be positive, got %s", c.Generation.TickInterval)
	}
	if c.Generation.TotalDuration < c.Generation.TickInterval {
		return fmt.Errorf("GENERATION_TOTAL_DURATION (%s) must be at least GENERATION_TICK_INTERVAL (%s)",
			c.Generation.TotalDuration, c.Generation.TickInterval)
	}
	if c.Generation.SnapshotTTL <= 0 {
		return fmt.Errorf("GENERATION_SNAPSHOT_TTL must be positive, got %s", c.Generation.SnapshotTTL)
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
