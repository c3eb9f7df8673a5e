package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

type R2 struct {
	AccountID  string
	AccessKey  string
	SecretKey  string
	BucketName string
}

type Dispatch struct {
	Cron                string
	BatchSize           int
	PostConcurrency     int
	PlatformConcurrency int
	AttemptTimeout      time.Duration
	RunTimeout          time.Duration
	ClaimTTL            time.Duration
	LockTTL             time.Duration
}

type Simulation struct {
	FailureRate     float64
	Latency         time.Duration
	RatePerSecond   float64
	PlatformCatalog string
}

type Config struct {
	PostgresURI         string
	RedisURI            string
	Port                string
	FrontendURL         string
	DailyScheduledLimit int
	MediaURLExpiry      time.Duration
	R2                  R2
	Dispatch            Dispatch
	Simulation          Simulation
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI:         getEnv("POSTGRES_URI", ""),
		RedisURI:            getEnv("REDIS_URI", "localhost:6379"),
		Port:                getEnv("PORT", "3000"),
		FrontendURL:         getEnv("FRONTEND_URL", "http://localhost:5173"),
		DailyScheduledLimit: getEnvInt("DAILY_SCHEDULED_LIMIT", 10),
		MediaURLExpiry:      getEnvDuration("MEDIA_URL_EXPIRY", 15*time.Minute),
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
		},
		Dispatch: Dispatch{
			Cron:                getEnv("DISPATCH_CRON", "@every 1m"),
			BatchSize:           getEnvInt("DISPATCH_BATCH_SIZE", 0),
			PostConcurrency:     getEnvInt("DISPATCH_POST_CONCURRENCY", 10),
			PlatformConcurrency: getEnvInt("DISPATCH_PLATFORM_CONCURRENCY", 5),
			AttemptTimeout:      getEnvDuration("DISPATCH_ATTEMPT_TIMEOUT", 30*time.Second),
			RunTimeout:          getEnvDuration("DISPATCH_RUN_TIMEOUT", 5*time.Minute),
			ClaimTTL:            getEnvDuration("DISPATCH_CLAIM_TTL", 15*time.Minute),
			LockTTL:             getEnvDuration("DISPATCH_LOCK_TTL", 10*time.Minute),
		},
		Simulation: Simulation{
			FailureRate:     getEnvFloat("SIMULATED_FAILURE_RATE", 0.4),
			Latency:         getEnvDuration("SIMULATED_LATENCY", time.Second),
			RatePerSecond:   getEnvFloat("PLATFORM_RATE_PER_SECOND", 5),
			PlatformCatalog: getEnv("PLATFORM_CATALOG", ""),
		},
	}
}

func (c *Config) R2Enabled() bool {
	return c.R2.AccountID != "" && c.R2.AccessKey != "" && c.R2.SecretKey != "" && c.R2.BucketName != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", slog.String("key", key), slog.String("value", value))
		return defaultValue
	}
	return n
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		slog.Warn("invalid float in environment, using default", slog.String("key", key), slog.String("value", value))
		return defaultValue
	}
	return f
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", slog.String("key", key), slog.String("value", value))
		return defaultValue
	}
	return d
}
