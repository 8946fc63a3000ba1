// Package configuration defines the settings of the session engine: step
// order, call timeouts, retry and poll behaviour, storage and lock backends,
// the remote job API endpoint, and logging.
package configuration

import (
	"net/http"
	"time"
)

// Config holds the complete session engine configuration.
type Config struct {
	// Steps is the ordered pipeline. Empty means the default reviewer
	// discovery pipeline.
	Steps []string `json:"steps" mapstructure:"steps" validate:"omitempty,unique,dive,required"`

	// CallTimeout bounds every remote call issued inside a guarded action.
	CallTimeout time.Duration `json:"call_timeout" mapstructure:"call_timeout" validate:"gt=0"`

	// Retry configuration for idempotent reads
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Poll configuration for long-running jobs
	Poll PollConfig `json:"poll" mapstructure:"poll"`

	// Store configuration for persisted session state
	Store StoreConfig `json:"store" mapstructure:"store"`

	// Lock configuration for the single-flight guard
	Lock LockConfig `json:"lock" mapstructure:"lock"`

	// Remote job API configuration
	Remote RemoteConfig `json:"remote" mapstructure:"remote"`

	// Observability configuration
	Observability ObservabilityConfig `json:"observability" mapstructure:"observability"`

	// Temporal configuration for durable polling
	Temporal TemporalConfig `json:"temporal" mapstructure:"temporal"`
}

// RetryConfig controls local retries of idempotent reads.
// Backoff is min(InitialInterval * Multiplier^attempt, MaxInterval).
type RetryConfig struct {
	// MaxAttempts counts attempts per invocation, including the first.
	MaxAttempts     int           `json:"max_attempts" mapstructure:"max_attempts" validate:"gte=1"`
	InitialInterval time.Duration `json:"initial_interval" mapstructure:"initial_interval" validate:"gt=0"`
	MaxInterval     time.Duration `json:"max_interval" mapstructure:"max_interval" validate:"gtefield=InitialInterval"`
	Multiplier      float64       `json:"multiplier" mapstructure:"multiplier" validate:"gte=1"`
	UseJitter       bool          `json:"use_jitter" mapstructure:"use_jitter"`
	// MaxRetryAfter caps server-provided wait hints. Zero leaves them unbounded.
	MaxRetryAfter time.Duration `json:"max_retry_after" mapstructure:"max_retry_after" validate:"gte=0"`
}

// PollConfig controls status polling.
type PollConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval" validate:"gt=0"`
	// FetchTimeout bounds one status fetch. Zero falls back to the call timeout.
	FetchTimeout time.Duration `json:"fetch_timeout" mapstructure:"fetch_timeout" validate:"gte=0"`
	// MaxDuration bounds the whole task. Zero means unbounded.
	MaxDuration time.Duration `json:"max_duration" mapstructure:"max_duration" validate:"gte=0"`
}

// Store backends.
const (
	StoreBackendMemory = "memory"
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"
)

// StoreConfig selects and configures the session store backend.
type StoreConfig struct {
	Backend    string      `json:"backend" mapstructure:"backend" validate:"oneof=memory sqlite redis"`
	SQLitePath string      `json:"sqlite_path" mapstructure:"sqlite_path" validate:"required_if=Backend sqlite"`
	Redis      RedisConfig `json:"redis" mapstructure:"redis"`
}

// RedisConfig holds connection settings shared by the Redis store and lock.
type RedisConfig struct {
	Addr           string        `json:"addr" mapstructure:"addr"`
	Password       string        `json:"-" mapstructure:"password"` // Sensitive, not serialized
	DB             int           `json:"db" mapstructure:"db" validate:"gte=0"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout" validate:"gte=0"`
}

// Lock backends.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// LockConfig selects the single-flight guard implementation.
type LockConfig struct {
	Backend  string        `json:"backend" mapstructure:"backend" validate:"oneof=memory redis"`
	LeaseTTL time.Duration `json:"lease_ttl" mapstructure:"lease_ttl" validate:"gte=0"` // Redis lease expiry
}

// RemoteConfig points the HTTP job API client at the remote service.
type RemoteConfig struct {
	BaseURL     string        `json:"base_url" mapstructure:"base_url" validate:"omitempty,url"`
	HTTPTimeout time.Duration `json:"http_timeout" mapstructure:"http_timeout" validate:"gt=0"`
	HTTPClient  *http.Client  `json:"-" mapstructure:"-"`

	// RequestsPerSecond of zero disables client-side rate limiting.
	RequestsPerSecond float64           `json:"requests_per_second" mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int               `json:"burst" mapstructure:"burst" validate:"gte=0"`
	Headers           map[string]string `json:"headers" mapstructure:"headers"`
	Routes            RoutesConfig      `json:"routes" mapstructure:"routes"`
}

// RoutesConfig holds path templates for the job API. {job_id}, {action} and
// {resource} are substituted per call.
type RoutesConfig struct {
	Submit   string `json:"submit" mapstructure:"submit" validate:"required"`
	Status   string `json:"status" mapstructure:"status" validate:"required"`
	Trigger  string `json:"trigger" mapstructure:"trigger" validate:"required"`
	Resource string `json:"resource" mapstructure:"resource" validate:"required"`
}

// ObservabilityConfig controls logging.
type ObservabilityConfig struct {
	LogLevel  string `json:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `json:"log_format" mapstructure:"log_format" validate:"omitempty,oneof=json text"`
}

// TemporalConfig configures the durable polling worker.
type TemporalConfig struct {
	HostPort  string `json:"host_port" mapstructure:"host_port"`
	Namespace string `json:"namespace" mapstructure:"namespace"`
	TaskQueue string `json:"task_queue" mapstructure:"task_queue"`
}
