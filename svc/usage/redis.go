package usage

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/tenantquota/svc/plan"
)

// RedisStore keeps one hash per organization: usage:{org} -> resource -> count.
// The hash tag keeps every counter of a tenant in the same cluster slot.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var (
	casScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if cur ~= tonumber(ARGV[2]) then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

	decrScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local nv = cur - tonumber(ARGV[2])
if nv < 0 then
  nv = 0
end
redis.call('HSET', KEYS[1], ARGV[1], nv)
return nv
`)
)

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if client == nil {
		panic("usage: redis client is required")
	}
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(orgID uuid.UUID) string {
	return s.prefix + ":{" + orgID.String() + "}"
}

func (s *RedisStore) Get(ctx context.Context, orgID uuid.UUID, r plan.Resource) (int64, error) {
	v, err := s.client.HGet(ctx, s.key(orgID), string(r)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, orgID uuid.UUID, r plan.Resource, old, next int64) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{s.key(orgID)}, string(r), old, next).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) Decrement(ctx context.Context, orgID uuid.UUID, r plan.Resource, amount int64) (int64, error) {
	return decrScript.Run(ctx, s.client, []string{s.key(orgID)}, string(r), amount).Int64()
}

func (s *RedisStore) List(ctx context.Context, orgID uuid.UUID) (map[plan.Resource]int64, error) {
	raw, err := s.client.HGetAll(ctx, s.key(orgID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[plan.Resource]int64, len(plan.Resources))
	for _, r := range plan.Resources {
		out[r] = 0
		if v, ok := raw[string(r)]; ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, err
			}
			out[r] = n
		}
	}
	return out, nil
}

func (s *RedisStore) Init(ctx context.Context, orgID uuid.UUID, resources []plan.Resource) error {
	_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, r := range resources {
			p.HSetNX(ctx, s.key(orgID), string(r), 0)
		}
		return nil
	})
	return err
}
