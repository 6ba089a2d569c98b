// Package config defines configuration parsing and helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	AppEnv string `env:"APP_ENV" envDefault:"dev"`
	Port   int    `env:"PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"data/summarizer.db"`

	// Provider credentials. At least one is required for the worker to have
	// any candidates; the server will still accept submissions without them.
	PrimaryAPIKey     string `env:"PRIMARY_API_KEY"`
	PrimaryBaseURL    string `env:"PRIMARY_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	PrimaryProvider   string `env:"PRIMARY_PROVIDER" envDefault:"openrouter"`
	SecondaryAPIKey   string `env:"SECONDARY_API_KEY"`
	SecondaryBaseURL  string `env:"SECONDARY_BASE_URL" envDefault:"https://api.groq.com/openai/v1"`
	SecondaryProvider string `env:"SECONDARY_PROVIDER" envDefault:"groq"`

	// ModelsFile optionally points to a YAML file with per-provider model
	// definitions; MODEL_CONFIG_* env overrides win over the file.
	ModelsFile string `env:"MODELS_FILE"`

	// InternalSecret signs callback requests; a missing or default value is a
	// fatal misconfiguration (see Validate).
	InternalSecret  string        `env:"INTERNAL_SECRET"`
	CallbackURL     string        `env:"CALLBACK_URL"`
	CallbackTimeout time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"10s"`

	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"1"`
	PollIntervalMs    int           `env:"POLL_INTERVAL_MS" envDefault:"1000"`
	StaleTimeoutMin   int           `env:"STALE_TIMEOUT_MIN" envDefault:"10"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"5m"`

	// Per-class provider backoff magnitudes.
	QuotaBackoff     time.Duration `env:"QUOTA_BACKOFF" envDefault:"60m"`
	AuthBackoff      time.Duration `env:"AUTH_BACKOFF" envDefault:"240m"`
	TransientBackoff time.Duration `env:"TRANSIENT_BACKOFF" envDefault:"15m"`

	UpstreamTimeout  time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"60s"`
	UpstreamMinDelay time.Duration `env:"UPSTREAM_MIN_DELAY" envDefault:"1s"`
	AIMode           string        `env:"AI_MODE" envDefault:"real"`

	DefaultMaxAttempts  int           `env:"DEFAULT_MAX_ATTEMPTS" envDefault:"3"`
	DefaultMinuteLimit  int           `env:"DEFAULT_MINUTE_LIMIT" envDefault:"10"`
	DefaultDayLimit     int           `env:"DEFAULT_DAY_LIMIT" envDefault:"1000"`
	DataRetentionDays   int           `env:"DATA_RETENTION_DAYS" envDefault:"90"`
	CleanupInterval     time.Duration `env:"CLEANUP_INTERVAL" envDefault:"24h"`
	MaxSummaryTokens    int           `env:"MAX_SUMMARY_TOKENS" envDefault:"1024"`
	RedisURL            string        `env:"REDIS_URL"`
	RateLimitPerMin     int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	MaxBodyBytes        int64         `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	CORSAllowOrigins    string        `env:"CORS_ALLOW_ORIGINS" envDefault:"*"`
	MetricsPort         int           `env:"METRICS_PORT" envDefault:"9090"`
	ServerShutdownGrace time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	OTLPEndpoint        string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	OTELServiceName     string        `env:"OTEL_SERVICE_NAME" envDefault:"ai-doc-summarizer"`
}

// ModelLimits is a per-model override parsed from MODEL_CONFIG_* variables.
type ModelLimits struct {
	PerMinute int
	PerDay    int
}

// Load parses environment variables into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("op=config.Load: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that must not reach production. An empty
// or placeholder INTERNAL_SECRET would let anyone forge callbacks.
func (c Config) Validate() error {
	if c.InternalSecret == "" || c.InternalSecret == "changeme" || c.InternalSecret == "default" {
		return fmt.Errorf("op=config.Validate: %w: INTERNAL_SECRET must be set to a non-default value", errInvalidSecret)
	}
	if c.CallbackURL == "" {
		return fmt.Errorf("op=config.Validate: CALLBACK_URL must be set")
	}
	return nil
}

var errInvalidSecret = fmt.Errorf("invalid internal secret")

// PollInterval returns the worker poll interval as a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// StaleTimeout returns the processing-claim timeout as a duration.
func (c Config) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutMin) * time.Minute
}

// IsDev reports whether the app is running in development mode.
func (c Config) IsDev() bool { return strings.ToLower(c.AppEnv) == "dev" }

// IsProd reports whether the app is running in production mode.
func (c Config) IsProd() bool { return strings.ToLower(c.AppEnv) == "prod" }

// IsTest reports whether the app is running in test mode.
func (c Config) IsTest() bool { return strings.ToLower(c.AppEnv) == "test" }

// ModelOverrides scans the environment for MODEL_CONFIG_<PROVIDER>_<MODEL>
// variables of the form "minute,day" and returns them keyed by
// "<provider>/<model>" (both lowercased).
func ModelOverrides(environ []string) map[string]ModelLimits {
	out := map[string]ModelLimits{}
	const prefix = "MODEL_CONFIG_"
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 || !strings.HasPrefix(kv[:eq], prefix) {
			continue
		}
		rest := kv[len(prefix):eq]
		// First segment is the provider, everything after is the model name.
		us := strings.IndexByte(rest, '_')
		if us <= 0 || us == len(rest)-1 {
			continue
		}
		provider := strings.ToLower(rest[:us])
		model := strings.ToLower(rest[us+1:])
		parts := strings.SplitN(kv[eq+1:], ",", 2)
		if len(parts) != 2 {
			continue
		}
		minute, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
		day, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err1 != nil || err2 != nil || minute < 1 || day < 1 {
			continue
		}
		out[provider+"/"+model] = ModelLimits{PerMinute: minute, PerDay: day}
	}
	return out
}

// ProviderEnabled reads PROVIDER_ENABLED_<PROVIDER>; absent means enabled.
func ProviderEnabled(provider string) bool {
	v, ok := os.LookupEnv("PROVIDER_ENABLED_" + strings.ToUpper(provider))
	if !ok {
		return true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return true
	}
	return b
}
