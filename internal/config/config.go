package config

import (
	"os"
	"time"
)

// Config holds all configuration for the reservation engine.
type Config struct {
	ServiceName   string
	MySQLDSN      string
	RedisAddr     string
	HTTPPort      string
	LogLevel      string
	LockTTL       time.Duration
	SweepInterval time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		ServiceName:   getEnv("SERVICE_NAME", "stock-reserve"),
		MySQLDSN:      getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockreserve?parseTime=true"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		HTTPPort:      getEnv("HTTP_PORT", ":8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LockTTL:       getDuration("LOCK_TTL", 10*time.Second),
		SweepInterval: getDuration("SWEEP_INTERVAL", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
