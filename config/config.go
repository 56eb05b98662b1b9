package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// HTTP API
	HTTPAddr string

	// Scheduler
	SweepInterval    time.Duration
	JobTimeout       time.Duration
	MatchCallTimeout time.Duration
	MatchParallelism int

	// Downstream analyze endpoint; empty means predictions run in-process.
	AnalyzeEndpoint string
	AnalyzeToken    string
	RequestTimeout  time.Duration
	RequestsPerSec  int

	// Operator notifications
	TelegramBotToken string
	TelegramChatID   int64

	LogLevel string
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	cfg := &Config{
		DBHost:     getEnvWithDefault("DB_HOST", "localhost"),
		DBPort:     getEnvWithDefault("DB_PORT", "5432"),
		DBUser:     getEnvWithDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnvWithDefault("DB_NAME", "winmix"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		HTTPAddr: getEnvWithDefault("HTTP_ADDR", ":8080"),

		SweepInterval:    time.Duration(getEnvIntWithDefault("SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		JobTimeout:       time.Duration(getEnvIntWithDefault("JOB_TIMEOUT_SECONDS", 600)) * time.Second,
		MatchCallTimeout: time.Duration(getEnvIntWithDefault("MATCH_CALL_TIMEOUT_SECONDS", 30)) * time.Second,
		MatchParallelism: getEnvIntWithDefault("MATCH_PARALLELISM", 4),

		AnalyzeEndpoint: os.Getenv("ANALYZE_ENDPOINT"),
		AnalyzeToken:    os.Getenv("ANALYZE_TOKEN"),
		RequestTimeout:  time.Duration(getEnvIntWithDefault("REQUEST_TIMEOUT", 30)) * time.Second,
		RequestsPerSec:  getEnvIntWithDefault("REQUESTS_PER_SEC", 5),

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   getEnvInt64WithDefault("TELEGRAM_CHAT_ID", 0),

		LogLevel: getEnvWithDefault("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
