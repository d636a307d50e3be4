// Package config loads configuration for the hub API and the render worker
// from environment variables. A .env file in the working directory is
// honored when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// API is the configuration for the hub API process.
type API struct {
	AppEnv   string
	Port     string
	LogLevel string
	LogJSON  bool

	// DatabaseURL enables the Postgres status mirror when set.
	DatabaseURL string
	// RedisAddr enables the Redis event publisher when set.
	RedisAddr    string
	RedisChannel string

	CORSAllowedOrigins []string

	MaxJobsPerWorker  int
	TerminalRetention time.Duration
	CleanupInterval   time.Duration

	ArtifactProvider  string
	ArtifactLocalRoot string
	DriveClientID     string
	DriveClientSecret string
	DriveRefreshToken string
	DriveFolderID     string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// Worker is the configuration for the render worker process.
type Worker struct {
	AppEnv   string
	LogLevel string
	LogJSON  bool

	HubBaseURL      string
	WorkerID        string
	Capabilities    []string
	RendererBaseURL string

	HeartbeatInterval    time.Duration
	MaxConcurrentRenders int64
}

// LoadAPI reads the API configuration, applying defaults where sensible.
func LoadAPI() (*API, error) {
	_ = godotenv.Load()

	cfg := &API{
		AppEnv:   getEnv("APP_ENV", "development"),
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", true),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisChannel: getEnv("REDIS_EVENT_CHANNEL", ""),

		CORSAllowedOrigins: getEnvCSV("CORS_ALLOWED_ORIGINS", []string{"*"}),

		MaxJobsPerWorker:  getEnvInt("MAX_JOBS_PER_WORKER", 3),
		TerminalRetention: time.Second * time.Duration(getEnvInt("TERMINAL_RETENTION_SECONDS", 3600)),
		CleanupInterval:   time.Second * time.Duration(getEnvInt("CLEANUP_INTERVAL_SECONDS", 300)),

		ArtifactProvider:  getEnv("ARTIFACT_PROVIDER", "localfs"),
		ArtifactLocalRoot: getEnv("ARTIFACT_LOCAL_ROOT", "/data/artifacts"),
		DriveClientID:     os.Getenv("DRIVE_CLIENT_ID"),
		DriveClientSecret: os.Getenv("DRIVE_CLIENT_SECRET"),
		DriveRefreshToken: os.Getenv("DRIVE_REFRESH_TOKEN"),
		DriveFolderID:     os.Getenv("DRIVE_FOLDER_ID"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.MaxJobsPerWorker <= 0 {
		return nil, fmt.Errorf("MAX_JOBS_PER_WORKER must be positive")
	}
	if cfg.ArtifactProvider == "gdrive" && cfg.DriveRefreshToken == "" {
		return nil, fmt.Errorf("DRIVE_REFRESH_TOKEN is required for the gdrive artifact provider")
	}

	return cfg, nil
}

// LoadWorker reads the worker configuration.
func LoadWorker() (*Worker, error) {
	_ = godotenv.Load()

	cfg := &Worker{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogJSON:  getEnvBool("LOG_JSON", true),

		HubBaseURL:      getEnv("HUB_BASE_URL", "http://localhost:8080"),
		WorkerID:        os.Getenv("WORKER_ID"),
		Capabilities:    getEnvCSV("WORKER_ENGINES", []string{"remotion"}),
		RendererBaseURL: os.Getenv("RENDERER_HTTP_BASEURL"),

		HeartbeatInterval:    time.Second * time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 5)),
		MaxConcurrentRenders: int64(getEnvInt("MAX_CONCURRENT_RENDERS", 2)),
	}

	if cfg.WorkerID == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("WORKER_ID not set and hostname unavailable: %w", err)
		}
		cfg.WorkerID = host
	}
	if cfg.RendererBaseURL == "" {
		return nil, fmt.Errorf("RENDERER_HTTP_BASEURL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvCSV(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
