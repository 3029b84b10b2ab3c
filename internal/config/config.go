package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	API       APIConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	Addr         string
	UserIDHeader string
}

type StorageConfig struct {
	Root           string
	MaxUploadBytes int64
	AllowedFormats []string
}

type DatabaseConfig struct {
	// DSN empty means the in-memory record store.
	DSN string
}

type RateLimitConfig struct {
	// RedisAddr empty disables rate limiting.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Capacity      int
	Window        time.Duration
}

type TelemetryConfig struct {
	ServiceName  string
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() Config {
	return Config{
		API: APIConfig{
			Addr:         env("IMAGEHUB_API_ADDR", ":8080"),
			UserIDHeader: env("IMAGEHUB_USER_ID_HEADER", "X-User-ID"),
		},
		Storage: StorageConfig{
			Root:           env("IMAGEHUB_STORAGE_ROOT", "./.imagehub-data"),
			MaxUploadBytes: envInt64("IMAGEHUB_MAX_UPLOAD_BYTES", 10<<20),
			AllowedFormats: splitList(env("IMAGEHUB_ALLOWED_FORMATS", "jpg,jpeg,png,gif,bmp,webp")),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		RateLimit: RateLimitConfig{
			RedisAddr:     env("REDIS_ADDR", ""),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Capacity:      envInt("IMAGEHUB_RATE_LIMIT_CAPACITY", 30),
			Window:        time.Duration(envInt("IMAGEHUB_RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  env("IMAGEHUB_SERVICE_NAME", "imagehub-api"),
			Exporter:     env("IMAGEHUB_TRACE_EXPORTER", "none"),
			OTLPEndpoint: env("IMAGEHUB_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("IMAGEHUB_OTLP_INSECURE", false),
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

func envInt64(key string, fallback int64) int64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
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

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
