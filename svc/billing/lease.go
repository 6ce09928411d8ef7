package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Leaser grants exclusive ownership of a sweep partition across processes.
// The lease expires on its own if the holder dies mid-sweep.
type Leaser interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// LocalLeaser always grants the lease. Use it for single-process deployments.
type LocalLeaser struct{}

func (LocalLeaser) Acquire(context.Context, string, time.Duration) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}

// RedisLeaser holds leases as SET NX PX keys carrying a random token.
type RedisLeaser struct {
	client redis.UniversalClient
	prefix string
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

func NewRedisLeaser(client redis.UniversalClient, prefix string) *RedisLeaser {
	if client == nil {
		panic("billing: redis client is required")
	}
	if prefix == "" {
		prefix = "billing:lease"
	}
	return &RedisLeaser{client: client, prefix: prefix}
}

func (l *RedisLeaser) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	full := l.prefix + ":" + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) {
		// Only delete our own token; an expired lease may already belong to another process.
		_ = releaseScript.Run(ctx, l.client, []string{full}, token).Err()
	}
	return release, true, nil
}
