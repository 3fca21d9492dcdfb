// Package cache implements the Cache Surface of §4.9: a connection-pool
// fronted key-value store used as a write-through/read-through secondary
// store for hot status and friend lists. Grounded on
// other_examples/poseidonphp-pusher2__hub.go and
// other_examples/BLxcwg666-mx-core-go__types.go's go-redis usage; the
// go-redis v8 client already pools connections internally, which is what
// spec.md's "pool mutex for lend/return" describes at the client-library
// level.
package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache-key builders, matching §4.9's fixed key shapes.
func UserStatusKey(userID string) string  { return "user:status:" + userID }
func UserFriendsKey(userID string) string { return "user:friends:" + userID }

// Cache wraps a redis client with just the operation set §4.9 lists as used
// by the core: set/get/incr/del, hset/hget/hdel/hgetall, zadd/zrange,
// publish/subscribe.
type Cache struct {
	client *redis.Client
}

// New connects to a Redis-compatible endpoint at addr.
func New(addr string) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr})}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping is used by health.PingChecker to report cache connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Set stores a string value with an optional TTL (0 means no expiry).
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

// Get returns a string value, and whether the key existed.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Incr atomically increments a counter key.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	return c.client.Incr(ctx, key).Result()
}

// Del removes one or more keys.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// HSet sets one field in a hash.
func (c *Cache) HSet(ctx context.Context, key, field, value string) error {
	return c.client.HSet(ctx, key, field, value).Err()
}

// HGet returns one field from a hash, and whether it existed.
func (c *Cache) HGet(ctx context.Context, key, field string) (string, bool, error) {
	val, err := c.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// HDel removes one or more fields from a hash.
func (c *Cache) HDel(ctx context.Context, key string, fields ...string) error {
	return c.client.HDel(ctx, key, fields...).Err()
}

// HGetAll returns every field/value pair in a hash.
func (c *Cache) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.client.HGetAll(ctx, key).Result()
}

// ZAdd adds a member to a sorted set with a given score (ordinal).
func (c *Cache) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return c.client.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}

// ZRange returns members of a sorted set in the given index range.
func (c *Cache) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return c.client.ZRange(ctx, key, start, stop).Result()
}

// Publish sends a message on a channel.
func (c *Cache) Publish(ctx context.Context, channel, message string) error {
	return c.client.Publish(ctx, channel, message).Err()
}

// Subscribe returns a subscription whose Channel() yields messages
// published on channel.
func (c *Cache) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.client.Subscribe(ctx, channel)
}

// SetUserStatus writes the hash fields §4.9 specifies for user:status:{id}.
func (c *Cache) SetUserStatus(ctx context.Context, userID, status, sessionToken string, updatedAt time.Time) error {
	key := UserStatusKey(userID)
	if err := c.HSet(ctx, key, "status", status); err != nil {
		return err
	}
	if err := c.HSet(ctx, key, "session_token", sessionToken); err != nil {
		return err
	}
	return c.HSet(ctx, key, "last_updated", updatedAt.UTC().Format(time.RFC3339))
}

// GetUserStatus reads the user:status:{id} hash, cache-first per §4.9.
func (c *Cache) GetUserStatus(ctx context.Context, userID string) (map[string]string, bool, error) {
	fields, err := c.HGetAll(ctx, UserStatusKey(userID))
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		return nil, false, nil
	}
	return fields, true, nil
}

// AddFriend appends a friend-id to a user's cached friends sorted set,
// keyed by ordinal (its score is the set's current member count).
func (c *Cache) AddFriend(ctx context.Context, userID, friendID string) error {
	key := UserFriendsKey(userID)
	members, err := c.ZRange(ctx, key, 0, -1)
	if err != nil {
		return err
	}
	return c.ZAdd(ctx, key, float64(len(members)), friendID)
}

// FriendIDs returns the cached friend-ids for a user in ordinal order.
func (c *Cache) FriendIDs(ctx context.Context, userID string) ([]string, error) {
	return c.ZRange(ctx, UserFriendsKey(userID), 0, -1)
}
