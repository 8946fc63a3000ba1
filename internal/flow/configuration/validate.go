package configuration

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig indicates that the configuration failed validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// validate is the package-level validator instance used for struct validation.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration for internally consistent values.
// Backends that need connection details are checked beyond struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Store.Backend == StoreBackendRedis && c.Store.Redis.Addr == "" {
		return fmt.Errorf("%w: store.redis.addr is required for the redis store", ErrInvalidConfig)
	}
	if c.Lock.Backend == LockBackendRedis {
		if c.Store.Redis.Addr == "" {
			return fmt.Errorf("%w: store.redis.addr is required for the redis lock", ErrInvalidConfig)
		}
		if c.Lock.LeaseTTL <= 0 {
			return fmt.Errorf("%w: lock.lease_ttl must be positive for the redis lock", ErrInvalidConfig)
		}
	}
	return nil
}
