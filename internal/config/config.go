// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret    string `mapstructure:"JWT_SECRET"`
	Port         string `mapstructure:"PORT"`
	DBHost       string `mapstructure:"DB_HOST"`
	DBPort       string `mapstructure:"DB_PORT"`
	DBUser       string `mapstructure:"DB_USER"`
	DBPassword   string `mapstructure:"DB_PASSWORD"`
	DBName       string `mapstructure:"DB_NAME"`
	DBSSLMode    string `mapstructure:"DB_SSLMODE"`
	DBSchemaMode string `mapstructure:"DB_SCHEMA_MODE"`
	RedisURL     string `mapstructure:"REDIS_URL"`
	FeatureFlags string `mapstructure:"FEATURE_FLAGS"`
	Env          string `mapstructure:"APP_ENV"`

	DomainCatalogPath      string `mapstructure:"DOMAIN_CATALOG_PATH"`
	GatewayURL             string `mapstructure:"GATEWAY_URL"`
	GatewayToken           string `mapstructure:"GATEWAY_TOKEN"`
	ExternalTimeoutSeconds int    `mapstructure:"EXTERNAL_TIMEOUT_SECONDS"`

	AdmissionLimit        int `mapstructure:"ADMISSION_LIMIT"`
	ReservationTTLSeconds int `mapstructure:"RESERVATION_TTL_SECONDS"`
	PendingLifetimeHours  int `mapstructure:"PENDING_LIFETIME_HOURS"`
	ArchiveDays           int `mapstructure:"ARCHIVE_DAYS"`
	DeleteDays            int `mapstructure:"DELETE_DAYS"`

	CleanupCron          string `mapstructure:"CLEANUP_CRON"`
	RetryCron            string `mapstructure:"RETRY_CRON"`
	ReservationSweepCron string `mapstructure:"RESERVATION_SWEEP_CRON"`
	LedgerPurgeCron      string `mapstructure:"LEDGER_PURGE_CRON"`
	LedgerGraceHours     int    `mapstructure:"LEDGER_GRACE_HOURS"`
	RetryBatchSize       int    `mapstructure:"RETRY_BATCH_SIZE"`
	ReconcileDebounceMS  int    `mapstructure:"RECONCILE_DEBOUNCE_MS"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint     string  `mapstructure:"TRACING_OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))
	config.DBSchemaMode = strings.ToLower(strings.TrimSpace(config.DBSchemaMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "lfgkeeper")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("FEATURE_FLAGS", "")
	viper.SetDefault("APP_ENV", "development")

	viper.SetDefault("DOMAIN_CATALOG_PATH", "catalog.yml")
	viper.SetDefault("GATEWAY_URL", "")
	viper.SetDefault("GATEWAY_TOKEN", "")
	viper.SetDefault("EXTERNAL_TIMEOUT_SECONDS", 5)

	viper.SetDefault("ADMISSION_LIMIT", 3)
	viper.SetDefault("RESERVATION_TTL_SECONDS", 300)
	viper.SetDefault("PENDING_LIFETIME_HOURS", 72)
	viper.SetDefault("ARCHIVE_DAYS", 14)
	viper.SetDefault("DELETE_DAYS", 30)

	viper.SetDefault("CLEANUP_CRON", "0 */15 * * * *")
	viper.SetDefault("RETRY_CRON", "30 */5 * * * *")
	viper.SetDefault("RESERVATION_SWEEP_CRON", "0 * * * * *")
	viper.SetDefault("LEDGER_PURGE_CRON", "0 0 4 * * *")
	viper.SetDefault("LEDGER_GRACE_HOURS", 168)
	viper.SetDefault("RETRY_BATCH_SIZE", 50)
	viper.SetDefault("RECONCILE_DEBOUNCE_MS", 1500)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.AdmissionLimit < 1 {
		return errors.New("ADMISSION_LIMIT must be at least 1")
	}
	if c.ExternalTimeoutSeconds < 1 {
		return errors.New("EXTERNAL_TIMEOUT_SECONDS must be at least 1")
	}
	if c.ArchiveDays < 1 || c.DeleteDays < 1 {
		return errors.New("ARCHIVE_DAYS and DELETE_DAYS must be at least 1")
	}
	switch c.DBSchemaMode {
	case "", "hybrid", "sql", "auto":
	default:
		return fmt.Errorf("DB_SCHEMA_MODE %q is not one of hybrid, sql, auto", c.DBSchemaMode)
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for key, spec := range map[string]string{
		"CLEANUP_CRON":           c.CleanupCron,
		"RETRY_CRON":             c.RetryCron,
		"RESERVATION_SWEEP_CRON": c.ReservationSweepCron,
		"LEDGER_PURGE_CRON":      c.LedgerPurgeCron,
	} {
		if spec == "" {
			continue
		}
		if _, err := parser.Parse(spec); err != nil {
			return fmt.Errorf("%s is not a valid cron expression: %w", key, err)
		}
	}

	isProduction := c.IsProduction()

	if isProduction {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable SSL in production")
		}
		if c.GatewayURL == "" {
			log.Println("WARNING: GATEWAY_URL is empty in production. Artifacts will only be tracked in memory.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// ExternalTimeout is the fixed timeout wrapped around chat transport calls.
func (c *Config) ExternalTimeout() time.Duration {
	return time.Duration(c.ExternalTimeoutSeconds) * time.Second
}

// ReservationTTL is how long an admission reservation lives without release.
func (c *Config) ReservationTTL() time.Duration {
	return time.Duration(c.ReservationTTLSeconds) * time.Second
}

// PendingLifetime is how long a new request may wait for review before it expires.
func (c *Config) PendingLifetime() time.Duration {
	return time.Duration(c.PendingLifetimeHours) * time.Hour
}

// LedgerGrace is how long resolved failure records are kept.
func (c *Config) LedgerGrace() time.Duration {
	return time.Duration(c.LedgerGraceHours) * time.Hour
}

// ReconcileDebounce is the delay before acting on an artifact deletion notification.
func (c *Config) ReconcileDebounce() time.Duration {
	return time.Duration(c.ReconcileDebounceMS) * time.Millisecond
}
