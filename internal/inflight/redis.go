package inflight

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/go-core/log"
)

const keyPrefix = "warden:investigation:inflight:"

// releaseScript deletes the lock only if it still carries our token, so a
// lease that expired and was re-acquired elsewhere is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a guard backed by SET NX with a lease. The lease bounds how long
// a crashed holder can block an alert.
type Redis struct {
	rdb    redis.UniversalClient
	lease  time.Duration
	logger log.Logger
}

// NewRedis returns a Redis guard. lease must exceed the longest expected run.
func NewRedis(rdb redis.UniversalClient, lease time.Duration, logger log.Logger) *Redis {
	if logger == nil {
		logger = log.Nop()
	}
	return &Redis{rdb: rdb, lease: lease, logger: logger}
}

// Key returns the Redis key guarding alertID.
func Key(alertID string) string {
	return keyPrefix + alertID
}

// TryAcquire claims alertID across every process sharing the Redis.
func (r *Redis) TryAcquire(ctx context.Context, alertID string) (func(), bool, error) {
	token := ulid.Make().String()
	ok, err := r.rdb.SetNX(ctx, Key(alertID), token, r.lease).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.rdb, []string{Key(alertID)}, token).Err(); err != nil {
			r.logger.Error(rctx, err, "failed to release in-flight lock", "alert_id", alertID)
		}
	}
	return release, true, nil
}
