package configuration

import (
	"time"
)

// Timeout constants.
const (
	DefaultCallTimeout        = 30 * time.Second
	DefaultHTTPTimeoutSeconds = 30
	DefaultConnectTimeout     = 5 * time.Second
)

// Retry constants.
const (
	DefaultMaxAttempts       = 3
	DefaultInitialInterval   = 500 * time.Millisecond
	DefaultMaxInterval       = 10 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxRetryAfter     = time.Minute
)

// Poll constants.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxPolls     = 1800
)

// Storage and lock constants.
const (
	DefaultSQLitePath = ".reviewflow/sessions.db"
	DefaultRedisAddr  = "localhost:6379"
	DefaultLeaseTTL   = 5 * time.Minute
)

// Remote constants.
const (
	DefaultRequestsPerSecond = 5
	DefaultBurstSize         = 10
)

// Temporal constants.
const (
	DefaultTemporalHostPort = "localhost:7233"
	DefaultNamespace        = "default"
	DefaultTaskQueue        = "reviewflow"
)

// DefaultRoutes returns the job API path templates used when none are configured.
func DefaultRoutes() RoutesConfig {
	return RoutesConfig{
		Submit:   "/jobs",
		Status:   "/jobs/{job_id}/status",
		Trigger:  "/jobs/{job_id}/actions/{action}",
		Resource: "/jobs/{job_id}/{resource}",
	}
}

// DefaultConfig returns a configuration suitable for a single-user host:
// durable SQLite storage, in-process locks and conservative retry settings.
func DefaultConfig() *Config {
	return &Config{
		CallTimeout: DefaultCallTimeout,
		Retry: RetryConfig{
			MaxAttempts:     DefaultMaxAttempts,
			InitialInterval: DefaultInitialInterval,
			MaxInterval:     DefaultMaxInterval,
			Multiplier:      DefaultBackoffMultiplier,
			UseJitter:       false,
			MaxRetryAfter:   DefaultMaxRetryAfter,
		},
		Poll: PollConfig{
			Interval: DefaultPollInterval,
		},
		Store: StoreConfig{
			Backend:    StoreBackendSQLite,
			SQLitePath: DefaultSQLitePath,
			Redis: RedisConfig{
				Addr:           DefaultRedisAddr,
				ConnectTimeout: DefaultConnectTimeout,
			},
		},
		Lock: LockConfig{
			Backend:  LockBackendMemory,
			LeaseTTL: DefaultLeaseTTL,
		},
		Remote: RemoteConfig{
			HTTPTimeout:       DefaultHTTPTimeoutSeconds * time.Second,
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurstSize,
			Routes:            DefaultRoutes(),
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
		Temporal: TemporalConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
	}
}
