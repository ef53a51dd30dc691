package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with pointer fields so an omitted key is
// distinguishable from a zero value. A file value only applies when the
// matching environment variable is unset; environment always wins.
type fileConfig struct {
	Environment *string `yaml:"environment"`
	Server      struct {
		Host            *string        `yaml:"host"`
		Port            *int           `yaml:"port"`
		ReadTimeout     *time.Duration `yaml:"read_timeout"`
		WriteTimeout    *time.Duration `yaml:"write_timeout"`
		ShutdownTimeout *time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Database struct {
		URL      *string `yaml:"url"`
		Host     *string `yaml:"host"`
		Port     *int    `yaml:"port"`
		User     *string `yaml:"user"`
		Password *string `yaml:"password"`
		Name     *string `yaml:"name"`
		SSLMode  *string `yaml:"sslmode"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret *string `yaml:"jwt_secret"`
		Issuer    *string `yaml:"issuer"`
	} `yaml:"auth"`
	Dispatcher struct {
		PollInterval  *time.Duration `yaml:"poll_interval"`
		BatchSize     *int           `yaml:"batch_size"`
		WorkerCount   *int           `yaml:"worker_count"`
		MaxAttempts   *int           `yaml:"max_attempts"`
		BaseBackoff   *time.Duration `yaml:"base_backoff"`
		MaxBackoff    *time.Duration `yaml:"max_backoff"`
		ProcessingTTL *time.Duration `yaml:"processing_ttl"`
	} `yaml:"dispatcher"`
	Policy struct {
		RequireSignature   *bool          `yaml:"require_signature"`
		RequireDualControl *bool          `yaml:"require_dual_control"`
		DriftThreshold     *float64       `yaml:"drift_threshold"`
		IdempotencyTTL     *time.Duration `yaml:"idempotency_ttl"`
	} `yaml:"policy"`
	Observability struct {
		LogLevel  *string `yaml:"log_level"`
		LogFormat *string `yaml:"log_format"`
	} `yaml:"observability"`
}

// applyFile overlays values from a YAML file onto the config for every field
// whose environment variable is unset.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var f fileConfig
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyString(&c.Environment, f.Environment, "ENVIRONMENT")

	applyString(&c.Server.Host, f.Server.Host, "SERVER_HOST")
	applyInt(&c.Server.Port, f.Server.Port, "SERVER_PORT")
	applyDuration(&c.Server.ReadTimeout, f.Server.ReadTimeout, "SERVER_READ_TIMEOUT")
	applyDuration(&c.Server.WriteTimeout, f.Server.WriteTimeout, "SERVER_WRITE_TIMEOUT")
	applyDuration(&c.Server.ShutdownTimeout, f.Server.ShutdownTimeout, "SERVER_SHUTDOWN_TIMEOUT")

	applyString(&c.Database.ConnectionString, f.Database.URL, "DATABASE_URL")
	applyString(&c.Database.Host, f.Database.Host, "DB_HOST")
	applyInt(&c.Database.Port, f.Database.Port, "DB_PORT")
	applyString(&c.Database.User, f.Database.User, "DB_USER")
	applyString(&c.Database.Password, f.Database.Password, "DB_PASSWORD")
	applyString(&c.Database.Database, f.Database.Name, "DB_NAME")
	applyString(&c.Database.SSLMode, f.Database.SSLMode, "DB_SSLMODE")

	applyString(&c.Auth.JWTSecret, f.Auth.JWTSecret, "JWT_SECRET")
	applyString(&c.Auth.Issuer, f.Auth.Issuer, "JWT_ISSUER")

	applyDuration(&c.Dispatcher.PollInterval, f.Dispatcher.PollInterval, "OUTBOX_POLL_INTERVAL")
	applyInt(&c.Dispatcher.BatchSize, f.Dispatcher.BatchSize, "OUTBOX_BATCH_SIZE")
	applyInt(&c.Dispatcher.WorkerCount, f.Dispatcher.WorkerCount, "OUTBOX_WORKER_COUNT")
	applyInt(&c.Dispatcher.MaxAttempts, f.Dispatcher.MaxAttempts, "OUTBOX_MAX_ATTEMPTS")
	applyDuration(&c.Dispatcher.BaseBackoff, f.Dispatcher.BaseBackoff, "OUTBOX_BASE_BACKOFF")
	applyDuration(&c.Dispatcher.MaxBackoff, f.Dispatcher.MaxBackoff, "OUTBOX_MAX_BACKOFF")
	applyDuration(&c.Dispatcher.ProcessingTTL, f.Dispatcher.ProcessingTTL, "OUTBOX_PROCESSING_TTL")

	applyBool(&c.Policy.RequireSignature, f.Policy.RequireSignature, "POLICY_REQUIRE_SIGNATURE")
	applyBool(&c.Policy.RequireDualControl, f.Policy.RequireDualControl, "POLICY_REQUIRE_DUAL_CONTROL")
	applyFloat(&c.Policy.DriftThreshold, f.Policy.DriftThreshold, "POLICY_DRIFT_THRESHOLD")
	applyDuration(&c.Policy.IdempotencyTTL, f.Policy.IdempotencyTTL, "POLICY_IDEMPOTENCY_TTL")

	applyString(&c.Observability.LogLevel, f.Observability.LogLevel, "LOG_LEVEL")
	applyString(&c.Observability.LogFormat, f.Observability.LogFormat, "LOG_FORMAT")

	return nil
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func applyString(dst *string, src *string, envKey string) {
	if src != nil && !envSet(envKey) {
		*dst = *src
	}
}

func applyInt(dst *int, src *int, envKey string) {
	if src != nil && !envSet(envKey) {
		*dst = *src
	}
}

func applyBool(dst *bool, src *bool, envKey string) {
	if src != nil && !envSet(envKey) {
		*dst = *src
	}
}

func applyFloat(dst *float64, src *float64, envKey string) {
	if src != nil && !envSet(envKey) {
		*dst = *src
	}
}

func applyDuration(dst *time.Duration, src *time.Duration, envKey string) {
	if src != nil && !envSet(envKey) {
		*dst = *src
	}
}
