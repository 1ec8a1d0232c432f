package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	JWTSecret  string

	// Delivery retry policy: 1 initial attempt + SendMaxRetries retries,
	// waiting SendRetryDelay * attempt between attempts.
	SendMaxRetries int
	SendRetryDelay time.Duration

	// FeedChannel is the Postgres NOTIFY channel carrying message changes.
	FeedChannel string
}

func Load() *Config {
	// .env je opcionalan; env varijable imaju prednost
	_ = godotenv.Load()

	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "klasa"),
		DBPassword:     getEnv("DB_PASSWORD", "klasa_dev_password"),
		DBName:         getEnv("DB_NAME", "klasa"),
		JWTSecret:      getEnv("JWT_SECRET", "dev-secret-change-me"),
		SendMaxRetries: getEnvInt("SEND_MAX_RETRIES", 3),
		SendRetryDelay: getEnvDuration("SEND_RETRY_DELAY", time.Second),
		FeedChannel:    getEnv("FEED_CHANNEL", "message_changes"),
	}
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getEnvInt(key string, fallback int) int {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
