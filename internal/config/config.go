package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the root configuration for both the ingest worker and the API.
type Config struct {
	Logging  LoggingConfig
	Staging  AreaConfig
	Archive  AreaConfig
	Database DatabaseConfig
	Secrets  SecretsConfig
	Retry    RetryConfig
	Watcher  WatcherConfig
	Metrics  MetricsConfig
	API      APIConfig

	// SchemaRegistryFile optionally points at a YAML file overriding the
	// built-in target registry.
	SchemaRegistryFile string
}

type LoggingConfig struct {
	Format string
	Level  string
}

// AreaConfig describes one object storage area (staging or archive).
type AreaConfig struct {
	Backend  string // "local" | "s3" | "gcs"
	Bucket   string
	Prefix   string
	LocalDir string

	// S3-compatible endpoints (B2, R2, MinIO)
	S3Endpoint string
	S3Region   string
}

type DatabaseConfig struct {
	Host   string
	Port   int
	Name   string
	User   string
	Schema string
}

// SecretsConfig holds runtimevar URLs for the two secrets the system reads:
// the database password and the API bearer token.
type SecretsConfig struct {
	DBPasswordURL string
	APITokenURL   string
	CacheTTL      time.Duration // 0 = cache for process lifetime
}

// RetryConfig drives the orchestrator's backoff for transient steps.
type RetryConfig struct {
	MaxAttempts  int
	BaseInterval time.Duration
	Multiplier   float64
}

type WatcherConfig struct {
	PollInterval time.Duration
	KeyPrefix    string
}

type MetricsConfig struct {
	Enabled bool
	Address string
}

type APIConfig struct {
	ListenAddress string
}

// MustLoad reads configuration from the environment with sensible defaults.
func MustLoad() Config {
	return Config{
		Logging: LoggingConfig{
			Format: getenvDefault("LOG_FORMAT", "text"),
			Level:  getenvDefault("LOG_LEVEL", "info"),
		},
		Staging: AreaConfig{
			Backend:    getenvDefault("STAGING_BACKEND", "local"),
			Bucket:     os.Getenv("STAGING_BUCKET"),
			Prefix:     os.Getenv("STAGING_PREFIX"),
			LocalDir:   getenvDefault("STAGING_DIR", "./data/staging"),
			S3Endpoint: os.Getenv("STAGING_S3_ENDPOINT"),
			S3Region:   os.Getenv("STAGING_S3_REGION"),
		},
		Archive: AreaConfig{
			Backend:    getenvDefault("ARCHIVE_BACKEND", "local"),
			Bucket:     os.Getenv("ARCHIVE_BUCKET"),
			Prefix:     os.Getenv("ARCHIVE_PREFIX"),
			LocalDir:   getenvDefault("ARCHIVE_DIR", "./data/archive"),
			S3Endpoint: os.Getenv("ARCHIVE_S3_ENDPOINT"),
			S3Region:   os.Getenv("ARCHIVE_S3_REGION"),
		},
		Database: DatabaseConfig{
			Host:   getenvDefault("DB_HOST", "localhost"),
			Port:   parseInt(getenvDefault("DB_PORT", "5432"), 5432),
			Name:   getenvDefault("DB_NAME", "ingest"),
			User:   getenvDefault("DB_USER", "postgres"),
			Schema: getenvDefault("DB_SCHEMA", "ingest"),
		},
		Secrets: SecretsConfig{
			DBPasswordURL: os.Getenv("DB_PASSWORD_SECRET_URL"),
			APITokenURL:   os.Getenv("API_TOKEN_SECRET_URL"),
			CacheTTL:      parseDuration(os.Getenv("SECRET_CACHE_TTL"), 0),
		},
		Retry: RetryConfig{
			MaxAttempts:  parseInt(getenvDefault("RETRY_MAX_ATTEMPTS", "3"), 3),
			BaseInterval: parseDuration(getenvDefault("RETRY_BASE_INTERVAL", "2s"), 2*time.Second),
			Multiplier:   parseFloat(getenvDefault("RETRY_MULTIPLIER", "2.0"), 2.0),
		},
		Watcher: WatcherConfig{
			PollInterval: parseDuration(getenvDefault("WATCH_POLL_INTERVAL", "10s"), 10*time.Second),
			KeyPrefix:    getenvDefault("WATCH_KEY_PREFIX", "in/"),
		},
		Metrics: MetricsConfig{
			Enabled: os.Getenv("METRICS_ENABLED") == "true",
			Address: getenvDefault("METRICS_ADDRESS", ":9090"),
		},
		API: APIConfig{
			ListenAddress: getenvDefault("API_LISTEN_ADDRESS", ":8080"),
		},
		SchemaRegistryFile: os.Getenv("SCHEMA_REGISTRY_FILE"),
	}
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func parseInt(v string, def int) int {
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func parseFloat(v string, def float64) float64 {
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func parseDuration(v string, def time.Duration) time.Duration {
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}
