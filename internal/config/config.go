// Package config loads the control plane configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fleetflow/outreach/control-plane/pkg/models"
)

// Config holds all configuration for the outreach control plane.
type Config struct {
	Port      int
	Version   string
	LogLevel  string
	Store     StoreConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Executor  ExecutorConfig
	Channels  ChannelConfig
	Company   models.CompanyData
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Retention RetentionConfig

	ImmediateDrain  bool
	TemplateSeed    string
	AnalyzerTimeout time.Duration
}

type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver     string
	DataDir    string
	SQLitePath string
}

// RedisConfig backs the daily call counter. An empty Addr keeps it in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SchedulerConfig struct {
	TickInterval      time.Duration
	MaxParallelAgents int
	PendingMaxAge     time.Duration
}

type ExecutorConfig struct {
	ChannelTimeout   time.Duration
	RetryMaxAttempts int
	RetryInitial     time.Duration
}

// ChannelConfig points action types at webhook endpoints. Types without a
// URL use the logging placeholder.
type ChannelConfig struct {
	URLs   map[models.ActionType]string
	Secret string
	RPS    float64
}

// RetentionConfig controls the finished-action janitor. A zero Age disables it.
type RetentionConfig struct {
	Age        time.Duration
	Interval   time.Duration
	Mode       string
	ArchiveDir string
	Compress   bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	// SampleRatio applies to new root traces; 1 samples everything.
	SampleRatio  float64
}

type AuthConfig struct {
	// APIKeys is a comma-separated list; "key=tenant" pins a key to a tenant.
	APIKeys     string
	RequireAuth bool
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:     envInt("OUTREACH_PORT", 8080),
		Version:  envStr("OUTREACH_VERSION", "0.1.0"),
		LogLevel: envStr("LOG_LEVEL", "info"),
		Store: StoreConfig{
			Driver:     strings.ToLower(envStr("OUTREACH_STORE", "memory")),
			DataDir:    envStr("OUTREACH_DATA_DIR", ""),
			SQLitePath: envStr("OUTREACH_SQLITE_PATH", "outreach.db"),
		},
		Redis: RedisConfig{
			Addr:     envStr("OUTREACH_REDIS_ADDR", ""),
			Password: envStr("OUTREACH_REDIS_PASSWORD", ""),
			DB:       envInt("OUTREACH_REDIS_DB", 0),
		},
		Scheduler: SchedulerConfig{
			TickInterval:      envDuration("OUTREACH_TICK_INTERVAL", 30*time.Second),
			MaxParallelAgents: envInt("OUTREACH_MAX_PARALLEL_AGENTS", 8),
			PendingMaxAge:     envDuration("OUTREACH_PENDING_MAX_AGE", 0),
		},
		Executor: ExecutorConfig{
			ChannelTimeout:   envDuration("OUTREACH_CHANNEL_TIMEOUT", 15*time.Second),
			RetryMaxAttempts: envInt("OUTREACH_RETRY_MAX_ATTEMPTS", 1),
			RetryInitial:     envDuration("OUTREACH_RETRY_INITIAL", 500*time.Millisecond),
		},
		Channels: ChannelConfig{
			URLs: map[models.ActionType]string{
				models.ActionEmail:        envStr("OUTREACH_WEBHOOK_EMAIL_URL", ""),
				models.ActionCall:         envStr("OUTREACH_WEBHOOK_CALL_URL", ""),
				models.ActionSocialPost:   envStr("OUTREACH_WEBHOOK_SOCIAL_URL", ""),
				models.ActionTextMessage:  envStr("OUTREACH_WEBHOOK_TEXT_URL", ""),
				models.ActionCRMUpdate:    envStr("OUTREACH_WEBHOOK_CRM_URL", ""),
				models.ActionDataResearch: envStr("OUTREACH_WEBHOOK_RESEARCH_URL", ""),
			},
			Secret: envStr("OUTREACH_WEBHOOK_SECRET", ""),
			RPS:    envFloat("OUTREACH_WEBHOOK_RPS", 5),
		},
		Company: models.CompanyData{
			Name:    envStr("OUTREACH_COMPANY_NAME", "FleetFlow Logistics"),
			Phone:   envStr("OUTREACH_COMPANY_PHONE", ""),
			Email:   envStr("OUTREACH_COMPANY_EMAIL", ""),
			Website: envStr("OUTREACH_COMPANY_WEBSITE", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "outreach-control-plane"),
			SampleRatio:  envFloat("OTEL_SAMPLE_RATIO", 1),
		},
		Auth: AuthConfig{
			APIKeys:     envStr("OUTREACH_API_KEYS", ""),
			RequireAuth: envBool("OUTREACH_REQUIRE_AUTH", false),
		},
		Retention: RetentionConfig{
			Age:        envDuration("OUTREACH_ACTION_RETENTION", 0),
			Interval:   envDuration("OUTREACH_RETENTION_INTERVAL", time.Hour),
			Mode:       envStr("OUTREACH_RETENTION_MODE", "archive-and-purge"),
			ArchiveDir: envStr("OUTREACH_ARCHIVE_DIR", ""),
			Compress:   envBool("OUTREACH_ARCHIVE_COMPRESS", true),
		},
		ImmediateDrain:  envBool("OUTREACH_IMMEDIATE_DRAIN", true),
		TemplateSeed:    envStr("OUTREACH_TEMPLATE_SEED", ""),
		AnalyzerTimeout: envDuration("OUTREACH_ANALYZER_TIMEOUT", 5*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or bare seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
