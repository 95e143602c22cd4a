package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Port        string
	Env         string
	DatabaseURL string
	RedisAddr   string
	LockTimeout time.Duration
	CORSOrigins []string
}

// LoadConfig reads an optional .env file and then the process environment.
// An empty DatabaseURL selects the in-memory store, an empty RedisAddr the
// in-process locker.
func LoadConfig(logger *zap.Logger) *Config {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file found, relying on system environment variables")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		LockTimeout: getMillis(logger, "LOCK_TIMEOUT_MS", 5000),
		CORSOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
	}
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getMillis(logger *zap.Logger, key string, fallback int) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return time.Duration(fallback) * time.Millisecond
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		logger.Warn("ignoring invalid duration", zap.String("key", key), zap.String("value", raw))
		return time.Duration(fallback) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
