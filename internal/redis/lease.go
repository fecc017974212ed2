package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrLeaseNotAcquired = errors.New("lease held by another worker")

// Leaser runs a background job on at most one replica at a time. It is never
// used to decide who gets a slot; the store does that.
type Leaser interface {
	WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) error
}

type redisLeaser struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLeaser creates a leaser that holds one Redis key per job name.
func NewRedisLeaser(client *redis.Client, ttl time.Duration) Leaser {
	return &redisLeaser{
		client: client,
		ttl:    ttl,
	}
}

func (l *redisLeaser) WithLease(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("lease:job:%s", name)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return ErrLeaseNotAcquired
	}

	defer func() {
		_ = l.release(context.WithoutCancel(ctx), key, token)
	}()

	// The job must finish before the key can expire under it.
	leaseCtx, cancel := context.WithTimeout(ctx, l.ttl)
	defer cancel()

	return fn(leaseCtx)
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (l *redisLeaser) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, l.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

type localLeaser struct{}

// LocalLeaser always grants the lease. It is for single-replica deployments
// running without Redis.
func LocalLeaser() Leaser { return localLeaser{} }

func (localLeaser) WithLease(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
