package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const requestKeyPrefix = "storefront:request:"

// releaseScript deletes a request key only while it still holds the token written
// by Acquire, so a key that expired and was taken again is left alone.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	return &RedisAdapter{client: client, ttl: ttl}
}

// Acquire writes a fresh token for every acquisition; only that token can
// release the key again.
func (r *RedisAdapter) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, requestKeyPrefix+key, token, r.ttl).Result()
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (r *RedisAdapter) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, r.client, []string{requestKeyPrefix + key}, token).Err()
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
