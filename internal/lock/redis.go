package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds our token, so an
// expired lock re-acquired by another replica is never released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

const (
	DefaultLockTTL   = 10 * time.Second
	defaultRetryWait = 25 * time.Millisecond
	keyPrefix        = "queue-service:lock:"
)

// Redis is a SET NX PX lock shared by all replicas.
type Redis struct {
	client    redis.Cmdable
	ttl       time.Duration
	retryWait time.Duration
	newToken  func() string
}

// NewRedis returns a Redis locker. ttl bounds how long a crashed holder
// blocks the key; zero means DefaultLockTTL.
func NewRedis(client redis.Cmdable, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Redis{
		client:    client,
		ttl:       ttl,
		retryWait: defaultRetryWait,
		newToken:  uuid.NewString,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	k := keyPrefix + key
	token := r.newToken()
	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(r.retryWait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed release still expires after ttl.
		_ = r.client.Eval(ctx, releaseScript, []string{k}, token).Err()
	}, nil
}

// ParseRedisURL opens a client for redis:// or rediss:// URLs.
func ParseRedisURL(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opt), nil
}
