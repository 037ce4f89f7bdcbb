package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"analytical/internal/analytics"
)

type Config struct {
	Env         string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"dev"`
	Port        string `envconfig:"PORT" default:"8080"`
	ServiceName string `envconfig:"OTEL_SERVICE_NAME" default:"analytical-relay"`

	OtelTracesExporter string `envconfig:"OTEL_TRACES_EXPORTER" default:"console"`
	OtelOTLPEndpoint   string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"http://localhost:4318"`
	OtelOTLPHeadersRaw string `envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`

	ErrorReportingProvider string `envconfig:"ERROR_REPORTING_PROVIDER" default:"console"`
	SentryDSN              string `envconfig:"SENTRY_DSN"`
	SentryEnvironment      string `envconfig:"SENTRY_ENVIRONMENT"`

	AnalyticsProvidersRaw string `envconfig:"ANALYTICS_PROVIDERS" default:"console"`
	MixpanelToken         string `envconfig:"MIXPANEL_TOKEN"`
	MixpanelAPIURL        string `envconfig:"MIXPANEL_API_URL"`
	PostHogProjectKey     string `envconfig:"POSTHOG_PROJECT_KEY"`
	PostHogHost           string `envconfig:"POSTHOG_HOST" default:"https://app.posthog.com"`

	// Optional. When set, Mixpanel identity state is shared through Redis.
	RedisURL      string        `envconfig:"REDIS_URL"`
	RedisStateTTL time.Duration `envconfig:"REDIS_STATE_TTL" default:"0s"`

	// Optional. When set, identity changes are audited to Postgres.
	DatabaseURL string `envconfig:"DATABASE_URL"`

	// Bearer token for setup, flush and the audit trail. Those routes are
	// disabled while it is empty.
	AdminToken      string `envconfig:"ADMIN_TOKEN"`
	SessionCapacity int    `envconfig:"SESSION_CAPACITY" default:"10000"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	AnalyticsProviders []string `ignored:"true"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("process env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	providers, err := analytics.ProvidersFromEnv(c.AnalyticsProvidersRaw)
	if err != nil {
		return err
	}
	c.AnalyticsProviders = providers

	for _, name := range providers {
		if name == "mixpanel" && strings.TrimSpace(c.MixpanelToken) == "" {
			return fmt.Errorf("MIXPANEL_TOKEN is required when ANALYTICS_PROVIDERS includes mixpanel")
		}
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.SessionCapacity <= 0 {
		return fmt.Errorf("SESSION_CAPACITY must be positive")
	}
	return nil
}

// MigrateConfig is the environment of cmd/migrate.
type MigrateConfig struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func LoadMigrate() (MigrateConfig, error) {
	var cfg MigrateConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return MigrateConfig{}, fmt.Errorf("process env: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return MigrateConfig{}, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}
