// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	LogLevel    string
	HTTPPort    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// DeviceSecret derives the key used to encrypt access-server credentials.
	DeviceSecret string

	GatewayBaseURL     string
	GatewayTimeout     time.Duration
	GatewayRate        float64
	GatewayBurst       int
	GatewayQueueDepth  int
	GatewayDescription string

	NotificationURL     string
	NotificationTimeout time.Duration

	GracePeriodDays   int
	SchedulerInterval time.Duration
	SweepBatchSize    int
	SyncRetryLimit    int

	SyncPoolSize         int
	SyncTimeout          time.Duration
	SyncSuspendedProfile string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:     getenv("APP_SERVICE", "wispbill"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		HTTPPort:    getenv("HTTP_PORT", "8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "wispbill"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		DeviceSecret: strings.TrimSpace(getenv("DEVICE_CREDENTIAL_SECRET", "")),

		GatewayBaseURL:     strings.TrimRight(getenv("GATEWAY_BASE_URL", "https://api.xendit.co"), "/"),
		GatewayTimeout:     getenvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		GatewayRate:        getenvFloat("GATEWAY_RATE", 2),
		GatewayBurst:       getenvInt("GATEWAY_BURST", 5),
		GatewayQueueDepth:  getenvInt("GATEWAY_QUEUE_DEPTH", 256),
		GatewayDescription: getenv("GATEWAY_DESCRIPTION", "Internet service"),

		NotificationURL:     getenv("NOTIFICATION_URL", ""),
		NotificationTimeout: getenvDuration("NOTIFICATION_TIMEOUT", 5*time.Second),

		GracePeriodDays:   getenvInt("GRACE_PERIOD_DAYS", 5),
		SchedulerInterval: getenvDuration("SCHEDULER_INTERVAL", time.Hour),
		SweepBatchSize:    getenvInt("SWEEP_BATCH_SIZE", 100),
		SyncRetryLimit:    getenvInt("SYNC_RETRY_LIMIT", 10),

		SyncPoolSize:         getenvInt("SYNC_POOL_SIZE", 4),
		SyncTimeout:          getenvDuration("SYNC_TIMEOUT", 30*time.Second),
		SyncSuspendedProfile: getenv("SYNC_SUSPENDED_PROFILE", "suspended"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
