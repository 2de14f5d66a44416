package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr             string
	GRPCAddr             string
	DatabaseURL          string
	RedisAddr            string
	RedisPassword        string
	SessionSecret        string
	SessionIssuer        string
	ServiceAuthToken     string
	AccessKeyTTL         time.Duration
	AccessKeyMaxTTL      time.Duration
	VersionSource        string
	GitHubRepo           string
	GitHubToken          string
	GitHubBranch         string
	VercelProjectID      string
	VercelToken          string
	VersionSyncInterval  time.Duration
	VersionSourceTimeout time.Duration
	RetentionInterval    time.Duration
	StaleActiveDays      int
	StaleCompletedDays   int
	StaleRequestDays     int
	LogLevel             string
	LogFormat            string
}

func Load() Config {
	return Config{
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:             os.Getenv("GRPC_ADDR"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		SessionSecret:        getenvSecret("SESSION_SECRET", ""),
		SessionIssuer:        getenv("SESSION_ISSUER", "devicehub"),
		ServiceAuthToken:     getenvSecret("SERVICE_AUTH_TOKEN", ""),
		AccessKeyTTL:         getenvDuration("ACCESS_KEY_TTL", 5*time.Minute),
		AccessKeyMaxTTL:      getenvDuration("ACCESS_KEY_MAX_TTL", time.Hour),
		VersionSource:        strings.ToLower(getenv("VERSION_SOURCE", "none")),
		GitHubRepo:           os.Getenv("GITHUB_REPO"),
		GitHubToken:          getenvSecret("GITHUB_TOKEN", ""),
		GitHubBranch:         getenv("GITHUB_BRANCH", "main"),
		VercelProjectID:      os.Getenv("VERCEL_PROJECT_ID"),
		VercelToken:          getenvSecret("VERCEL_TOKEN", ""),
		VersionSyncInterval:  getenvDuration("VERSION_SYNC_INTERVAL", 15*time.Minute),
		VersionSourceTimeout: getenvDuration("VERSION_SOURCE_TIMEOUT", 10*time.Second),
		RetentionInterval:    getenvDuration("RETENTION_INTERVAL", time.Hour),
		StaleActiveDays:      getenvInt("STALE_ACTIVE_DAYS", 2),
		StaleCompletedDays:   getenvInt("STALE_COMPLETED_DAYS", 7),
		StaleRequestDays:     getenvInt("STALE_REQUEST_DAYS", 30),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		LogFormat:            getenv("LOG_FORMAT", "json"),
	}
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// getenvSecret prefers KEY_FILE over KEY so secrets can be mounted as files.
func getenvSecret(key, fallback string) string {
	if file := os.Getenv(key + "_FILE"); file != "" {
		if data, err := os.ReadFile(file); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
