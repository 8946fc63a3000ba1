package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseIfOwner deletes the lease only when it still carries the caller's
// token id.
// KEYS[1] = lease key
// ARGV[1] = token id
var releaseIfOwner = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

const redisKeyPrefix = "lock:"

// RedisLocker is a Locker shared by several processes. Each key is a Redis
// lease created with SET NX and a TTL, so a holder that crashes without
// releasing frees the key once the lease expires.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewRedisLocker returns a Redis-backed Locker with the given lease TTL.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) (*RedisLocker, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %v", ttl)
	}
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		now:    time.Now,
		logger: slog.Default().With("component", "redis_lock"),
	}, nil
}

// TryAcquire creates the lease or returns ErrBusy.
func (l *RedisLocker) TryAcquire(ctx context.Context, key Key) (Token, error) {
	if err := key.Validate(); err != nil {
		return Token{}, err
	}

	tok := Token{Key: key, ID: uuid.NewString(), AcquiredAt: l.now()}
	ok, err := l.client.SetNX(ctx, redisKey(key), tok.ID, l.ttl).Result()
	if err != nil {
		return Token{}, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		l.logger.Debug("lease busy", "key", key.String())
		return Token{}, ErrBusy
	}
	return tok, nil
}

// Release deletes the lease if tok still owns it.
func (l *RedisLocker) Release(ctx context.Context, tok Token) error {
	if tok.ID == "" {
		return nil
	}
	if err := releaseIfOwner.Run(ctx, l.client, []string{redisKey(tok.Key)}, tok.ID).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", tok.Key, err)
	}
	return nil
}

func redisKey(k Key) string {
	return redisKeyPrefix + k.String()
}
