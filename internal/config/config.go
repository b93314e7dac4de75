package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/backend-buyback/internal/currency"
)

// Storage backends for buyback lists.
const (
	StorageMemory   = "memory"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Catalog sources.
const (
	CatalogStatic   = "static"
	CatalogPostgres = "postgres"
	CatalogHTTP     = "http"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string
	RootDomain         string
	MigrateOnStart     bool

	Markets       []string
	DefaultMarket string
	Storage       string
	SessionTTL    time.Duration
	SessionCookie string
	CookieSecure  bool
	BlobMaxBytes  int
	MaxQuantity   int
	LockTTL       time.Duration

	CatalogSource   string
	CatalogBaseURL  string
	CatalogCacheTTL time.Duration

	IdempotencyTTL   time.Duration
	RateLimitWindow  time.Duration
	RateLimitMax     int
	MutationLimitMax int
	BodyLimitBytes   int64
	ShutdownTimeout  time.Duration
	Obs              Obs
}

// Obs groups logging, metrics and tracing settings.
type Obs struct {
	LogFormat        string
	LogLevel         string
	MetricsNamespace string
	MetricsBuckets   string
	EnablePrometheus bool
	EnableTracing    bool
	TracingExporter  string
	OTLPEndpoint     string
	SamplingRatio    float64
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		RootDomain:         strings.TrimSpace(k.String("BUYBACK_ROOT_DOMAIN")),
		MigrateOnStart:     parseBool(k.String("DB_MIGRATE"), false),

		Markets:       lowerAll(splitAndTrim(k.String("BUYBACK_MARKETS"))),
		DefaultMarket: strings.ToLower(valueOrDefault(k.String("BUYBACK_DEFAULT_MARKET"), "us")),
		Storage:       strings.ToLower(strings.TrimSpace(k.String("BUYBACK_STORAGE"))),
		SessionTTL:    parseDuration(k.String("BUYBACK_SESSION_TTL"), "720h"),
		SessionCookie: valueOrDefault(k.String("BUYBACK_SESSION_COOKIE"), "buyback_session"),
		CookieSecure:  parseBool(k.String("COOKIE_SECURE"), false),
		BlobMaxBytes:  parseInt(k.String("BUYBACK_BLOB_MAX_BYTES"), 64<<10),
		MaxQuantity:   parseInt(k.String("BUYBACK_MAX_QUANTITY"), 99),
		LockTTL:       parseDuration(k.String("BUYBACK_LOCK_TTL"), "5s"),

		CatalogSource:   strings.ToLower(valueOrDefault(k.String("CATALOG_SOURCE"), CatalogStatic)),
		CatalogBaseURL:  strings.TrimSpace(k.String("CATALOG_BASE_URL")),
		CatalogCacheTTL: parseDuration(k.String("CATALOG_CACHE_TTL"), "5m"),

		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		RateLimitWindow:  parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		RateLimitMax:     parseInt(k.String("RATE_LIMIT_MAX"), 300),
		MutationLimitMax: parseInt(k.String("RATE_LIMIT_MUTATIONS_MAX"), 60),
		BodyLimitBytes:   int64(parseInt(k.String("HTTP_BODY_LIMIT_BYTES"), 1<<20)),
		ShutdownTimeout:  parseDuration(k.String("HTTP_SHUTDOWN_TIMEOUT"), "10s"),

		Obs: Obs{
			LogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "buyback"),
			MetricsBuckets:   k.String("OBS_METRICS_BUCKETS_MS"),
			EnablePrometheus: parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
			TracingExporter:  valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		},
	}
	if cfg.Storage == "" {
		cfg.Storage = defaultStorage(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultStorage(cfg *Config) string {
	switch {
	case cfg.RedisURL != "":
		return StorageRedis
	case cfg.DatabaseURL != "":
		return StoragePostgres
	default:
		return StorageMemory
	}
}

func (c *Config) validate() error {
	var errs []error
	switch c.Storage {
	case StorageMemory:
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for redis storage"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("BUYBACK_STORAGE %q is not supported", c.Storage))
	}
	switch c.CatalogSource {
	case CatalogStatic:
	case CatalogPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres catalog"))
		}
	case CatalogHTTP:
		if c.CatalogBaseURL == "" {
			errs = append(errs, errors.New("CATALOG_BASE_URL is required for the http catalog"))
		}
	default:
		errs = append(errs, fmt.Errorf("CATALOG_SOURCE %q is not supported", c.CatalogSource))
	}
	table, err := currency.Restrict(c.Markets)
	if err != nil {
		errs = append(errs, fmt.Errorf("BUYBACK_MARKETS: %w", err))
	} else if !table.Has(c.DefaultMarket) {
		errs = append(errs, fmt.Errorf("BUYBACK_DEFAULT_MARKET %q is not enabled", c.DefaultMarket))
	}
	if c.MaxQuantity < 1 {
		errs = append(errs, errors.New("BUYBACK_MAX_QUANTITY must be positive"))
	}
	return errors.Join(errs...)
}

// Policies returns the currency table restricted to the enabled markets.
func (c *Config) Policies() currency.Table {
	table, err := currency.Restrict(c.Markets)
	if err != nil {
		return currency.All()
	}
	return table
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func lowerAll(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToLower(v)
	}
	return values
}

func valueOrDefault(value, fallback string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []error
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
