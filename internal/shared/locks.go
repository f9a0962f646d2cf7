package shared

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// OverdueScanLockKey is held while overdue task reminders are being sent.
const OverdueScanLockKey = "helpdesk:lock:tasks:overdue_scan"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLock is a single-holder lock shared by every process using the same
// Redis. Holders are identified by a random token so an expired holder cannot
// release a lock taken over by someone else.
type RedisLock struct {
	client *redis.Client
}

// NewRedisLock constructs a RedisLock.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client}
}

// Acquire takes key for ttl. ok is false when another holder has it.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	if l == nil || l.client == nil {
		return nil, false, errors.New("redis lock not initialised")
	}
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, true, nil
}
