package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sbilibin2017/gw-bill-payments/internal/logger"
)

// releaseScript deletes the lock only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RequestLockRepository marks purchase requests as in progress in Redis so
// concurrent duplicates are turned away before touching the database.
type RequestLockRepository struct {
	client *redis.Client
	ttl    time.Duration // upper bound on how long a crashed holder blocks retries
}

// NewRequestLockRepository creates a lock repository; ttl bounds each lock.
func NewRequestLockRepository(client *redis.Client, ttl time.Duration) *RequestLockRepository {
	return &RequestLockRepository{
		client: client,
		ttl:    ttl,
	}
}

// Acquire takes the lock for key. ok is false when another holder has it.
// The returned token must be passed to Release.
func (r *RequestLockRepository) Acquire(ctx context.Context, key string) (token string, ok bool, err error) {
	token = uuid.NewString()
	ok, err = r.client.SetNX(ctx, lockKey(key), token, r.ttl).Result()

	logger.Log.Debugw(
		"key", lockKey(key),
		"result", ok,
		"error", err,
	)

	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release frees the lock if it is still held with token.
func (r *RequestLockRepository) Release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.client, []string{lockKey(key)}, token).Int()

	logger.Log.Debugw(
		"key", lockKey(key),
		"result", n,
		"error", err,
	)

	return err
}

func lockKey(key string) string {
	return fmt.Sprintf("purchase_lock:%s", key)
}
