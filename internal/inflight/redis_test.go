package inflight

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"
)

func openRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("WARDEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WARDEN_TEST_REDIS_ADDR not set, skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	return rdb
}

func TestRedis_AcquireRelease(t *testing.T) {
	rdb := openRedis(t)
	ctx := context.Background()
	alertID := "test-redis-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { rdb.Del(context.Background(), Key(alertID)) })

	g := NewRedis(rdb, time.Minute, log.Nop())

	release, ok, err := g.TryAcquire(ctx, alertID)
	if err != nil || !ok {
		t.Fatalf("first TryAcquire = (%v, %v), want (true, nil)", ok, err)
	}
	if _, ok, err := g.TryAcquire(ctx, alertID); err != nil || ok {
		t.Fatalf("second TryAcquire = (%v, %v), want (false, nil)", ok, err)
	}

	ttl, err := rdb.TTL(ctx, Key(alertID)).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Errorf("lease TTL = %v, want (0, 1m]", ttl)
	}

	release()

	if n, _ := rdb.Exists(ctx, Key(alertID)).Result(); n != 0 {
		t.Errorf("key still present after release")
	}
}

func TestRedis_ReleaseKeepsForeignLease(t *testing.T) {
	rdb := openRedis(t)
	ctx := context.Background()
	alertID := "test-redis-foreign-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { rdb.Del(context.Background(), Key(alertID)) })

	g := NewRedis(rdb, time.Minute, log.Nop())
	release, ok, err := g.TryAcquire(ctx, alertID)
	if err != nil || !ok {
		t.Fatalf("TryAcquire = (%v, %v)", ok, err)
	}

	// Simulate the lease expiring and another process taking over.
	if err := rdb.Set(ctx, Key(alertID), "someone-else", time.Minute).Err(); err != nil {
		t.Fatalf("Set: %v", err)
	}
	release()

	got, err := rdb.Get(ctx, Key(alertID)).Result()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "someone-else" {
		t.Errorf("lock value = %q, want %q", got, "someone-else")
	}
}
