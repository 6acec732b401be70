package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/newtron-network/rosguard/pkg/util"
)

// LockKeyPrefix namespaces device locks in Redis.
const LockKeyPrefix = "ROSGUARD_LOCK|"

// acquireLockScript atomically claims a device lock.
// Returns 1 on success, 0 if another holder has it.
var acquireLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 1 then
	return 0
end
redis.call("HSET", key, "holder", ARGV[1], "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// extendLockScript resets the expiry if holder still owns the lock.
// Returns 1 on success, 0 if the lock is gone or held by someone else.
var extendLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("HGET", key, "holder") ~= ARGV[1] then
	return 0
end
redis.call("HSET", key, "acquired", ARGV[2], "ttl", ARGV[3])
redis.call("EXPIRE", key, tonumber(ARGV[3]))
return 1
`)

// releaseLockScript deletes the lock only if holder still owns it.
// Returns 1 on success, 0 on holder mismatch, -1 if the key is gone.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
if redis.call("EXISTS", key) == 0 then
	return -1
end
local current = redis.call("HGET", key, "holder")
if current ~= ARGV[1] then
	return 0
end
redis.call("DEL", key)
return 1
`)

// RedisLocker shares device slots between orchestrator processes through a
// Redis hash per device that expires after the lock TTL.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker wraps an existing client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// DialRedisLocker connects to addr and verifies the server answers.
func DialRedisLocker(ctx context.Context, addr string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to lock server %s: %w", addr, err)
	}
	return &RedisLocker{client: client}, nil
}

// Acquire implements Locker. A lock held by someone else yields a
// *util.ConcurrentSessionError naming the holder.
func (l *RedisLocker) Acquire(ctx context.Context, deviceID, holder string, ttl time.Duration) error {
	key := LockKeyPrefix + deviceID
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := acquireLockScript.Run(ctx, l.client, []string{key},
		holder, now, ttlSeconds(ttl)).Int()
	if err != nil {
		return fmt.Errorf("acquiring lock for %s: %w", deviceID, err)
	}
	if result == 1 {
		return nil
	}

	busy := &util.ConcurrentSessionError{Device: deviceID, State: "locked"}
	if vals, err := l.client.HGetAll(ctx, key).Result(); err == nil {
		busy.Holder = vals["holder"]
		if acquired, err := time.Parse(time.RFC3339, vals["acquired"]); err == nil {
			if ttl, err := strconv.Atoi(vals["ttl"]); err == nil {
				busy.Deadline = acquired.Add(time.Duration(ttl) * time.Second)
			}
		}
	}
	return busy
}

// Extend implements Locker.
func (l *RedisLocker) Extend(ctx context.Context, deviceID, holder string, ttl time.Duration) error {
	key := LockKeyPrefix + deviceID
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := extendLockScript.Run(ctx, l.client, []string{key},
		holder, now, ttlSeconds(ttl)).Int()
	if err != nil {
		return fmt.Errorf("extending lock for %s: %w", deviceID, err)
	}
	if result == 0 {
		return fmt.Errorf("lock for %s is no longer held by %s", deviceID, holder)
	}
	return nil
}

// Release implements Locker. A lock that already expired counts as released.
func (l *RedisLocker) Release(ctx context.Context, deviceID, holder string) error {
	key := LockKeyPrefix + deviceID

	result, err := releaseLockScript.Run(ctx, l.client, []string{key}, holder).Int()
	if err != nil {
		return fmt.Errorf("releasing lock for %s: %w", deviceID, err)
	}
	if result == 0 {
		return fmt.Errorf("lock holder mismatch for %s", deviceID)
	}
	return nil
}

func ttlSeconds(ttl time.Duration) string {
	seconds := int(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return strconv.Itoa(seconds)
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}
