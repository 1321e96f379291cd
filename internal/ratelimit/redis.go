package ratelimit

import (
	"context"
	_ "embed"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/linnemanlabs-edge/internal/xerrors"
)

//go:embed admit.lua
var admitScript string

// DefaultRedisPrefix namespaces counter keys.
const DefaultRedisPrefix = "lmedge:rl:"

// RedisStore shares fixed-window counters between instances. The first
// INCR of a window sets its expiry, so the window starts at the first request
// just like MemoryStore.
type RedisStore struct {
	client redis.Scripter
	script *redis.Script
	prefix string
}

func NewRedisStore(client redis.Scripter, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, script: redis.NewScript(admitScript), prefix: prefix}
}

func (s *RedisStore) key(k ClientKey) string {
	return s.prefix + k.Category + ":" + k.Address
}

func (s *RedisStore) Admit(ctx context.Context, key ClientKey, now time.Time, limit int, window time.Duration) (Decision, error) {
	res, err := s.script.Run(ctx, s.client, []string{s.key(key)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, xerrors.Wrap(err, "ratelimit redis admit")
	}
	if len(res) != 2 {
		return Decision{}, xerrors.Newf("ratelimit redis admit: unexpected reply length %d", len(res))
	}
	count, ttl := int(res[0]), time.Duration(res[1])*time.Millisecond
	start := now.Add(ttl - window)
	return decide(count, limit, start, window), nil
}

// Ping checks connectivity, used as a readiness check.
func Ping(ctx context.Context, c redis.UniversalClient) error {
	if err := c.Ping(ctx).Err(); err != nil {
		return xerrors.Wrap(err, "redis ping")
	}
	return nil
}
