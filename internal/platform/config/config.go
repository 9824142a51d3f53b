// Package config loads process configuration from the environment.
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

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	LogLevel        string
	SearchLimit     int
	ShutdownTimeout time.Duration

	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
}

// DatabaseConfig configures the PostgreSQL pool. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig configures the nickname reservation set and person cache. An
// empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CacheTTL     time.Duration
}

// KafkaConfig configures person event publication. No brokers disables it.
type KafkaConfig struct {
	Brokers    []string
	Topic      string
	BufferSize int
}

// FromEnv builds a Server config from environment variables so main stays lean.
// A .env file in the working directory is loaded first when present; variables
// already set in the environment win.
func FromEnv() (Server, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Server{}, fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	cfg := Server{
		Addr:            stringEnv("PESSOAS_ADDR", ":9999"),
		LogLevel:        stringEnv("LOG_LEVEL", "info"),
		SearchLimit:     intEnv("SEARCH_LIMIT", 50, &errs),
		ShutdownTimeout: durationEnv("SHUTDOWN_TIMEOUT", 10*time.Second, &errs),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    intEnv("DB_MAX_OPEN_CONNS", 25, &errs),
			MaxIdleConns:    intEnv("DB_MAX_IDLE_CONNS", 10, &errs),
			ConnMaxLifetime: durationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute, &errs),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     intEnv("REDIS_POOL_SIZE", 50, &errs),
			MinIdleConns: intEnv("REDIS_MIN_IDLE_CONNS", 10, &errs),
			DialTimeout:  durationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second, &errs),
			ReadTimeout:  durationEnv("REDIS_READ_TIMEOUT", 3*time.Second, &errs),
			WriteTimeout: durationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second, &errs),
			CacheTTL:     durationEnv("PERSON_CACHE_TTL", 10*time.Minute, &errs),
		},
		Kafka: KafkaConfig{
			Brokers:    listEnv("KAFKA_BROKERS"),
			Topic:      stringEnv("KAFKA_TOPIC", "pessoas.events"),
			BufferSize: intEnv("EVENT_BUFFER_SIZE", 1024, &errs),
		},
	}
	if cfg.SearchLimit <= 0 {
		errs = append(errs, fmt.Errorf("SEARCH_LIMIT must be positive, got %d", cfg.SearchLimit))
	}
	if err := errors.Join(errs...); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func stringEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func durationEnv(key string, fallback time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}

func listEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
