package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	JWTSecret   string
	SyncToken   string
	AccessTTL   time.Duration
	SyncSeenTTL time.Duration
	ReposDir    string
	CORSOrigin  string
	LogLevel    string
	LogPretty   bool
}

func Load() Config {
	return Config{
		Addr: getenv("API_ADDR", ":8790"),
		// Empty DATABASE_URL selects the in-memory store (development mode).
		DatabaseURL: getenv("DATABASE_URL", ""),
		// Empty REDIS_URL selects the in-memory sync seen-set.
		RedisURL:    getenv("REDIS_URL", ""),
		JWTSecret:   getenv("QUORUM_JWT_SECRET", "quorum-dev-secret"),
		SyncToken:   getenv("QUORUM_SYNC_TOKEN", "quorum-sync-token"),
		AccessTTL:   time.Duration(getenvInt("QUORUM_ACCESS_TTL_SECONDS", 900)) * time.Second,
		SyncSeenTTL: time.Duration(getenvInt("QUORUM_SYNC_SEEN_TTL_SECONDS", 900)) * time.Second,
		ReposDir:    getenv("QUORUM_REPOS_DIR", "./data/repos"),
		CORSOrigin:  getenv("QUORUM_CORS_ORIGIN", "*"),
		LogLevel:    getenv("QUORUM_LOG_LEVEL", "info"),
		LogPretty:   getenvBool("QUORUM_LOG_PRETTY", false),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
