// Package config loads server configuration from environment variables.
//
// Required variables:
//   - DATABASE_URL: PostgreSQL connection string.
//
// Optional variables:
//   - HTTP_ADDR, GRPC_ADDR: listen addresses (defaults ":8080" and ":9090").
//   - LOG_LEVEL: debug, info, warn or error (default "info").
//   - LOG_FORMAT: json or text (default "json").
//   - STREAM_POLL_INTERVAL: how often SSE and gRPC watchers poll the catalog
//     event log (default "1s").
//   - CACHE_RESYNC_INTERVAL: full catalog reload interval (default "1m").
//   - MAX_JSON_BODY_SIZE: request body cap in bytes (default 1 MiB).
//   - EVENT_BATCH_SIZE: events returned per stream poll (default 1000).
//   - AUTH_RATE_LIMIT: failed auth attempts per minute per client before
//     requests are rejected (default 10).
//   - DEFAULT_LOCALE: BCP 47 tag used when a request carries no usable
//     Accept-Language header (default "en").
//   - RUN_MIGRATIONS: apply pending migrations at startup (default "true").
//   - ADMIN_HOSTNAME, TS_AUTH_KEY, TS_STATE_DIR, SESSION_SECRET: the admin
//     portal on the tailnet. SESSION_SECRET must be at least 32 characters
//     when ADMIN_HOSTNAME is set.
//
// Durations and counts must be positive. Load reports every invalid variable
// at once rather than stopping at the first.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

const (
	defaultHTTPAddr                  = ":8080"
	defaultGRPCAddr                  = ":9090"
	defaultLogLevel                  = "info"
	defaultLogFormat                 = "json"
	defaultStreamPollInterval        = time.Second
	defaultTSStateDir                = "tsnet-state"
	defaultAuthRateLimit             = 10
	defaultMaxJSONBodySize     int64 = 1 << 20
	defaultEventBatchSize            = 1000
	defaultCacheResyncInterval       = time.Minute
	defaultLocale                    = "en"

	minSessionSecretLength = 32
)

// Config holds the runtime configuration for the yomu server.
type Config struct {
	DatabaseURL string
	HTTPAddr    string
	GRPCAddr    string
	LogLevel    string
	LogFormat   string

	StreamPollInterval  time.Duration
	CacheResyncInterval time.Duration
	MaxJSONBodySize     int64
	EventBatchSize      int
	AuthRateLimit       int
	DefaultLocale       string
	RunMigrations       bool

	AdminHostname string
	TSAuthKey     string
	TSStateDir    string
	SessionSecret string
}

// AdminEnabled reports whether the tailnet admin portal should start.
func (c Config) AdminEnabled() bool {
	return c.AdminHostname != ""
}

// Load reads configuration from environment variables, applying defaults where
// appropriate.
func Load() (Config, error) {
	var env envReader

	cfg := Config{
		DatabaseURL: env.required("DATABASE_URL"),
		HTTPAddr:    envOrDefault("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:    envOrDefault("GRPC_ADDR", defaultGRPCAddr),
		LogLevel:    envOrDefault("LOG_LEVEL", defaultLogLevel),
		LogFormat:   env.oneOf("LOG_FORMAT", defaultLogFormat, "json", "text"),

		StreamPollInterval:  env.positiveDuration("STREAM_POLL_INTERVAL", defaultStreamPollInterval),
		CacheResyncInterval: env.positiveDuration("CACHE_RESYNC_INTERVAL", defaultCacheResyncInterval),
		MaxJSONBodySize:     env.positiveInt64("MAX_JSON_BODY_SIZE", defaultMaxJSONBodySize),
		EventBatchSize:      int(env.positiveInt64("EVENT_BATCH_SIZE", defaultEventBatchSize)),
		AuthRateLimit:       int(env.positiveInt64("AUTH_RATE_LIMIT", defaultAuthRateLimit)),
		DefaultLocale:       env.locale("DEFAULT_LOCALE", defaultLocale),
		RunMigrations:       env.boolean("RUN_MIGRATIONS", true),

		AdminHostname: envOrDefault("ADMIN_HOSTNAME", ""),
		TSAuthKey:     os.Getenv("TS_AUTH_KEY"),
		TSStateDir:    envOrDefault("TS_STATE_DIR", defaultTSStateDir),
		SessionSecret: envOrDefault("SESSION_SECRET", ""),
	}

	if cfg.AdminEnabled() {
		switch {
		case cfg.SessionSecret == "":
			env.fail(errors.New("SESSION_SECRET is required when ADMIN_HOSTNAME is set"))
		case len(cfg.SessionSecret) < minSessionSecretLength:
			env.fail(fmt.Errorf("SESSION_SECRET must be at least %d characters when ADMIN_HOSTNAME is set", minSessionSecretLength))
		}
	}

	if err := env.err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envReader parses typed variables and collects every failure.
type envReader struct {
	errs []error
}

func (r *envReader) fail(err error) {
	r.errs = append(r.errs, err)
}

func (r *envReader) err() error {
	return errors.Join(r.errs...)
}

func (r *envReader) required(key string) string {
	v := envOrDefault(key, "")
	if v == "" {
		r.fail(fmt.Errorf("%s is required", key))
	}
	return v
}

func (r *envReader) positiveDuration(key string, fallback time.Duration) time.Duration {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	if d <= 0 {
		r.fail(fmt.Errorf("%s must be > 0", key))
		return fallback
	}
	return d
}

func (r *envReader) positiveInt64(key string, fallback int64) int64 {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 1 {
		r.fail(fmt.Errorf("%s must be a positive integer", key))
		return fallback
	}
	return n
}

func (r *envReader) boolean(key string, fallback bool) bool {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return b
}

func (r *envReader) locale(key, fallback string) string {
	v := envOrDefault(key, "")
	if v == "" {
		return fallback
	}
	tag, err := language.Parse(v)
	if err != nil {
		r.fail(fmt.Errorf("parse %s: %w", key, err))
		return fallback
	}
	return tag.String()
}

func (r *envReader) oneOf(key, fallback string, allowed ...string) string {
	v := strings.ToLower(envOrDefault(key, fallback))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	r.fail(fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, ", "), v))
	return fallback
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
