package config

import (
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

type Config struct {
	Pipeline  PipelineConfig
	Retry     RetryConfig
	Storage   StorageConfig
	Throttle  ThrottleConfig
	Database  DatabaseConfig
	Webhook   WebhookConfig
	Telemetry TelemetryConfig
}

type PipelineConfig struct {
	MaxImages        int
	Concurrency      int
	ThumbnailSize    int
	Quality          float64
	MaxWardrobeBytes int64
	MaxAvatarBytes   int64
	AvatarSize       int
	AvatarMaxBytes   int64
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	PublicBaseURL string
	URLExpiry     time.Duration
}

// ThrottleConfig enables the Redis upload throttle when RedisAddr is set.
type ThrottleConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Uploads       int
	Window        time.Duration
	Subject       string
	// BytesPerToken sizes the payload chunk that costs one token.
	BytesPerToken int64
}

// DatabaseConfig selects the Postgres asset ledger; an empty DSN keeps the
// ledger in memory for the run.
type DatabaseConfig struct {
	DSN string
}

type WebhookConfig struct {
	URL           string
	SigningSecret string
	MaxAttempts   int
	Timeout       time.Duration
}

type TelemetryConfig struct {
	TraceExporter  string
	OTLPEndpoint   string
	OTLPInsecure   bool
	SampleRatio    float64
	PushgatewayURL string
}

// LoadDotEnv reads path (".env" when empty) into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

func Load() Config {
	return Config{
		Pipeline: PipelineConfig{
			MaxImages:        envInt("WARDROBE_MAX_IMAGES", 5),
			Concurrency:      envInt("WARDROBE_CONCURRENCY", max(1, runtime.NumCPU()/2)),
			ThumbnailSize:    envInt("WARDROBE_THUMBNAIL_SIZE", 800),
			Quality:          envFloat("WARDROBE_QUALITY", 0.8),
			MaxWardrobeBytes: envBytes("WARDROBE_MAX_FILE_SIZE", 10<<20),
			MaxAvatarBytes:   envBytes("AVATAR_MAX_FILE_SIZE", 5<<20),
			AvatarSize:       envInt("AVATAR_SIZE", 400),
			AvatarMaxBytes:   envBytes("AVATAR_MAX_OUTPUT_SIZE", 1<<20),
		},
		Retry: RetryConfig{
			MaxAttempts:  envInt("RETRY_MAX_ATTEMPTS", 3),
			InitialDelay: envDuration("RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:     envDuration("RETRY_MAX_DELAY", 10*time.Second),
		},
		Storage: StorageConfig{
			Endpoint:      env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey:     env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey:     env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:        env("MINIO_BUCKET", "wardrobe-assets"),
			UseSSL:        envBool("MINIO_USE_SSL", false),
			PublicBaseURL: env("MINIO_PUBLIC_BASE_URL", ""),
			URLExpiry:     envDuration("MINIO_URL_EXPIRY", 7*24*time.Hour),
		},
		Throttle: ThrottleConfig{
			RedisAddr:     env("REDIS_ADDR", ""),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Uploads:       envInt("UPLOAD_RATE_LIMIT", 30),
			Window:        envDuration("UPLOAD_RATE_WINDOW", time.Minute),
			Subject:       env("UPLOAD_SUBJECT", "local"),
			BytesPerToken: envBytes("UPLOAD_RATE_BYTES_PER_TOKEN", 1<<20),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Webhook: WebhookConfig{
			URL:           env("WEBHOOK_URL", ""),
			SigningSecret: env("WEBHOOK_SIGNING_SECRET", ""),
			MaxAttempts:   envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			Timeout:       envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint:   env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure:   envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:    envFloat("OTEL_TRACES_SAMPLER_RATIO", 1),
			PushgatewayURL: env("PUSHGATEWAY_URL", ""),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// envBytes accepts a plain byte count or a size such as "5MiB" or "10MB"
// (SI for KB/MB/GB, binary for KiB/MiB/GiB).
func envBytes(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	n, ok := ParseBytes(value)
	if !ok {
		return fallback
	}
	return n
}

// ParseBytes parses human-readable sizes. Values that do not fit in an
// int64 are rejected.
func ParseBytes(value string) (int64, bool) {
	parsed, err := humanize.ParseBytes(strings.TrimSpace(value))
	if err != nil || parsed > math.MaxInt64 {
		return 0, false
	}
	return int64(parsed), true
}
