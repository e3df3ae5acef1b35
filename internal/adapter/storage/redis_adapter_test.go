package storage

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestAcquire_Success(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-" + uuid.NewString()
	defer client.Del(ctx, requestKeyPrefix+key)

	token, ok, err := adapter.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || token == "" {
		t.Error("expected first call to succeed with a token")
	}

	_, ok, err = adapter.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected second call to fail")
	}

	ttl := client.TTL(ctx, requestKeyPrefix+key).Val()
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("expected ttl within a minute, got %v", ttl)
	}
}

func TestRelease_AllowsReissue(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-" + uuid.NewString()
	defer client.Del(ctx, requestKeyPrefix+key)

	token, _, _ := adapter.Acquire(ctx, key)
	if err := adapter.Release(ctx, key, token); err != nil {
		t.Fatalf("release failed: %v", err)
	}

	_, ok, err := adapter.Acquire(ctx, key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected acquire after release to succeed")
	}
}

func TestRelease_KeepsForeignToken(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "test-" + uuid.NewString()
	defer client.Del(ctx, requestKeyPrefix+key)

	stale, _, _ := adapter.Acquire(ctx, key)
	// The first lease expires and a second request in the same process takes the key.
	client.Del(ctx, requestKeyPrefix+key)
	current, ok, err := adapter.Acquire(ctx, key)
	if err != nil || !ok {
		t.Fatalf("expected reacquire to succeed: ok=%v err=%v", ok, err)
	}
	if stale == current {
		t.Fatal("expected a new token per acquisition")
	}

	if err := adapter.Release(ctx, key, stale); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if client.Exists(ctx, requestKeyPrefix+key).Val() != 1 {
		t.Error("key held by another token must not be released")
	}

	if err := adapter.Release(ctx, key, current); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if client.Exists(ctx, requestKeyPrefix+key).Val() != 0 {
		t.Error("owner token must release the key")
	}
}

func TestAcquire_Concurrent(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	adapter := NewRedisAdapter(client, time.Minute)
	key := "concurrent-" + uuid.NewString()
	defer client.Del(ctx, requestKeyPrefix+key)

	var successCount atomic.Int32
	var wg sync.WaitGroup
	concurrency := 100

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := adapter.Acquire(ctx, key)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}

	wg.Wait()

	// Only one should succeed
	if successCount.Load() != 1 {
		t.Errorf("expected exactly 1 success, got %d", successCount.Load())
	}
}
