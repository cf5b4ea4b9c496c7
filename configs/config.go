package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var loadEnv sync.Once

// Config returns one environment variable, loading .env on first use.
func Config(key string) string {
	loadEnv.Do(func() {
		_ = godotenv.Load(".env")
	})
	return os.Getenv(key)
}

type Settings struct {
	Port        string
	StoreDriver string
	DatabaseURL string
	JWTSecret   string
	LogLevel    string
	LogPretty   bool
	CORSOrigins string

	HeartbeatInterval time.Duration
	SendBuffer        int

	RedisURL          string
	RateLimitMessages int64
	RateLimitWindow   time.Duration

	KafkaBrokers string
	KafkaTopic   string

	CloudinaryURL string
	MediaFolder   string
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load reads every setting, applying defaults, and validates the result.
func Load() (*Settings, error) {
	var errs []string
	dur := func(key, def string) time.Duration {
		raw := withDefault(key, def)
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid duration %q", key, raw))
		}
		return d
	}
	num := func(key, def string) int64 {
		raw := withDefault(key, def)
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			errs = append(errs, fmt.Sprintf("%s: invalid number %q", key, raw))
		}
		return n
	}

	s := &Settings{
		Port:              withDefault("PORT", "8080"),
		StoreDriver:       strings.ToLower(withDefault("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:       Config("DATABASE_URL"),
		JWTSecret:         Config("JWT_SECRET"),
		LogLevel:          withDefault("LOG_LEVEL", "info"),
		LogPretty:         Config("LOG_PRETTY") == "true",
		CORSOrigins:       withDefault("CORS_ORIGINS", "*"),
		HeartbeatInterval: dur("HEARTBEAT_INTERVAL", "30s"),
		SendBuffer:        int(num("SESSION_SEND_BUFFER", "256")),
		RedisURL:          Config("REDIS_URL"),
		RateLimitMessages: num("RATE_LIMIT_MESSAGES", "30"),
		RateLimitWindow:   dur("RATE_LIMIT_WINDOW", "10s"),
		KafkaBrokers:      Config("KAFKA_BROKERS"),
		KafkaTopic:        withDefault("KAFKA_TOPIC", "messages.created"),
		CloudinaryURL:     Config("CLOUDINARY_URL"),
		MediaFolder:       withDefault("MEDIA_FOLDER", "chat_media"),
	}

	switch s.StoreDriver {
	case DriverPostgres:
		if s.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres store")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("STORE_DRIVER: unknown driver %q", s.StoreDriver))
	}
	if s.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return s, nil
}

func withDefault(key, def string) string {
	if v := strings.TrimSpace(Config(key)); v != "" {
		return v
	}
	return def
}
