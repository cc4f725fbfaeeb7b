package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the lease only if ARGV[1] holds it.
var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// releaseScript deletes the lease only if ARGV[1] holds it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLease is a Locker shared by every process using the same Redis.
type RedisLease struct {
	client *redis.Client
	prefix string
}

// NewRedisLease returns a Locker storing leases under prefix. An empty
// prefix defaults to "validio:lease:".
func NewRedisLease(client *redis.Client, prefix string) *RedisLease {
	if prefix == "" {
		prefix = "validio:lease:"
	}
	return &RedisLease{client: client, prefix: prefix}
}

func (s *RedisLease) key(name string) string {
	return s.prefix + name
}

// Acquire implements Locker.
func (s *RedisLease) Acquire(ctx context.Context, name, holderID string, ttl time.Duration) error {
	key := s.key(name)

	ok, err := s.client.SetNX(ctx, key, holderID, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if ok {
		return nil
	}

	holder, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET.
		return s.Acquire(ctx, name, holderID, ttl)
	}
	if err != nil {
		return fmt.Errorf("failed to check existing lease: %w", err)
	}
	if holder == holderID {
		return s.Renew(ctx, name, holderID, ttl)
	}
	return fmt.Errorf("%s: %w (holder %s)", name, ErrHeld, holder)
}

// Renew implements Locker.
func (s *RedisLease) Renew(ctx context.Context, name, holderID string, ttl time.Duration) error {
	res, err := renewScript.Run(ctx, s.client, []string{s.key(name)}, holderID, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("failed to renew lease: %w", err)
	}
	if res != 1 {
		return fmt.Errorf("%s: %w", name, ErrLost)
	}
	return nil
}

// Release implements Locker. Releasing a lease held by someone else is a no-op.
func (s *RedisLease) Release(ctx context.Context, name, holderID string) error {
	if err := releaseScript.Run(ctx, s.client, []string{s.key(name)}, holderID).Err(); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// Get implements Locker.
func (s *RedisLease) Get(ctx context.Context, name string) (*Info, error) {
	key := s.key(name)

	holder, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	ttl, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get lease ttl: %w", err)
	}

	return &Info{
		Name:      name,
		HolderID:  holder,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}
