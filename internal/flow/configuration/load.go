package configuration

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// REVIEWFLOW_REMOTE_BASE_URL.
const EnvPrefix = "REVIEWFLOW"

// Load reads configuration from the optional file at path and from the
// environment, layered over DefaultConfig. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	return LoadWith(v, path)
}

// LoadWith is Load with a caller-supplied viper instance, so command line
// flags bound to v take precedence over the file and environment.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper. Keys viper does not know about
// are ignored by AutomaticEnv during Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("steps", d.Steps)
	v.SetDefault("call_timeout", d.CallTimeout)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)
	v.SetDefault("retry.multiplier", d.Retry.Multiplier)
	v.SetDefault("retry.use_jitter", d.Retry.UseJitter)
	v.SetDefault("retry.max_retry_after", d.Retry.MaxRetryAfter)

	v.SetDefault("poll.interval", d.Poll.Interval)
	v.SetDefault("poll.fetch_timeout", d.Poll.FetchTimeout)
	v.SetDefault("poll.max_duration", d.Poll.MaxDuration)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.redis.addr", d.Store.Redis.Addr)
	v.SetDefault("store.redis.password", d.Store.Redis.Password)
	v.SetDefault("store.redis.db", d.Store.Redis.DB)
	v.SetDefault("store.redis.connect_timeout", d.Store.Redis.ConnectTimeout)

	v.SetDefault("lock.backend", d.Lock.Backend)
	v.SetDefault("lock.lease_ttl", d.Lock.LeaseTTL)

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.http_timeout", d.Remote.HTTPTimeout)
	v.SetDefault("remote.requests_per_second", d.Remote.RequestsPerSecond)
	v.SetDefault("remote.burst", d.Remote.Burst)
	v.SetDefault("remote.routes.submit", d.Remote.Routes.Submit)
	v.SetDefault("remote.routes.status", d.Remote.Routes.Status)
	v.SetDefault("remote.routes.trigger", d.Remote.Routes.Trigger)
	v.SetDefault("remote.routes.resource", d.Remote.Routes.Resource)

	v.SetDefault("observability.log_level", d.Observability.LogLevel)
	v.SetDefault("observability.log_format", d.Observability.LogFormat)

	v.SetDefault("temporal.host_port", d.Temporal.HostPort)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
}
