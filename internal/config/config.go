// Package config loads runtime settings from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds runtime settings for the pipebird services.
type Config struct {
	Environment string
	Postgres    PostgresConfig
	Telemetry   TelemetryConfig
	Staging     StagingConfig
	Worker      WorkerConfig
	Webhook     WebhookConfig
}

// PostgresConfig points at the control-plane database.
type PostgresConfig struct {
	DSN string `validate:"required"`
}

type TelemetryConfig struct {
	ServiceName string
}

// StagingConfig describes the S3 bucket warehouse loads stage through.
// Credentials are handed to destination engines in COPY/CREATE STAGE
// statements, so the key pair must be scoped to this bucket only.
type StagingConfig struct {
	Bucket          string `validate:"required"`
	Region          string `validate:"required"`
	AccessKeyID     string `validate:"required"`
	SecretAccessKey string `validate:"required"`
	KMSKeyID        string
	Endpoint        string
	ForcePathStyle  bool
}

type WorkerConfig struct {
	Concurrency   int `validate:"min=1"`
	PollInterval  time.Duration
	RetryAttempts int `validate:"min=0"`
	RetryBackoff  time.Duration
}

type WebhookConfig struct {
	Timeout time.Duration
}

// Lookup resolves one PIPEBIRD_* key to its raw string value. The CLI
// injects a resolver layered over viper so config files feed the same
// settings as the environment.
type Lookup func(key string) (string, bool)

// Load reads configuration from PIPEBIRD_* environment variables and
// validates required fields.
func Load() (*Config, error) {
	return LoadWith(os.LookupEnv)
}

// LoadWith builds and validates the configuration through the given
// resolver.
func LoadWith(lookup Lookup) (*Config, error) {
	cfg := &Config{
		Environment: getString(lookup, "PIPEBIRD_ENV", "dev"),
		Postgres: PostgresConfig{
			DSN: getString(lookup, "PIPEBIRD_POSTGRES_DSN", ""),
		},
		Telemetry: TelemetryConfig{
			ServiceName: getString(lookup, "PIPEBIRD_OTEL_SERVICE", "pipebird"),
		},
		Staging: StagingConfig{
			Bucket:          getString(lookup, "PIPEBIRD_STAGING_BUCKET", ""),
			Region:          getString(lookup, "PIPEBIRD_STAGING_REGION", ""),
			AccessKeyID:     getString(lookup, "PIPEBIRD_STAGING_ACCESS_KEY_ID", ""),
			SecretAccessKey: getString(lookup, "PIPEBIRD_STAGING_SECRET_ACCESS_KEY", ""),
			KMSKeyID:        getString(lookup, "PIPEBIRD_STAGING_KMS_KEY_ID", ""),
			Endpoint:        getString(lookup, "PIPEBIRD_STAGING_ENDPOINT", ""),
			ForcePathStyle:  getBool(lookup, "PIPEBIRD_STAGING_FORCE_PATH_STYLE", false),
		},
		Worker: WorkerConfig{
			Concurrency:   getInt(lookup, "PIPEBIRD_WORKER_CONCURRENCY", 4),
			PollInterval:  getDuration(lookup, "PIPEBIRD_WORKER_POLL_INTERVAL", 5*time.Second),
			RetryAttempts: getInt(lookup, "PIPEBIRD_WORKER_RETRY_ATTEMPTS", 0),
			RetryBackoff:  getDuration(lookup, "PIPEBIRD_WORKER_RETRY_BACKOFF", 10*time.Second),
		},
		Webhook: WebhookConfig{
			Timeout: getDuration(lookup, "PIPEBIRD_WEBHOOK_TIMEOUT", 10*time.Second),
		},
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func getString(lookup Lookup, key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

func getBool(lookup Lookup, key string, fallback bool) bool {
	if value, ok := lookup(key); ok {
		switch value {
		case "1", "true", "TRUE", "yes", "YES":
			return true
		case "0", "false", "FALSE", "no", "NO":
			return false
		default:
			return fallback
		}
	}
	return fallback
}

func getInt(lookup Lookup, key string, fallback int) int {
	if value, ok := lookup(key); ok {
		var parsed int
		if _, err := fmt.Sscanf(value, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(lookup Lookup, key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
