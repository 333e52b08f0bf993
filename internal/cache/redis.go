package cache

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// versionTTL bounds how long an idle key's generation counter lingers. An
// expired counter reads as 0, which can only make a pending fill fail, never
// succeed wrongly.
const versionTTL = 24 * time.Hour

// setIfVersion stores ARGV[2] at KEYS[1] only when KEYS[2] (missing = "0")
// equals ARGV[1]. ARGV[3] is the TTL in milliseconds; 0 means no expiry.
var setIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[2])
if not v then v = '0' end
if v ~= ARGV[1] then return 0 end
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
else
	redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// RedisCache satisfies Versioned using a go-redis client shared with the
// rest of the process.
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

var _ Versioned = (*RedisCache)(nil)

// versionKey names key's generation counter. Both must hash to the same
// cluster slot for the script and the Bump transaction. Redis hashes only the
// first {...} of a key, or the whole key when there is none, so an untagged
// key wrapped in braces hashes exactly like the key itself.
func versionKey(key string) string {
	if hashTag(key) != "" {
		return key + ":v"
	}
	return "{" + key + "}:v"
}

// hashTag returns the non-empty {...} section Redis Cluster hashes, if any.
func hashTag(key string) string {
	open := strings.IndexByte(key, '{')
	if open < 0 {
		return ""
	}
	end := strings.IndexByte(key[open+1:], '}')
	if end <= 0 {
		return ""
	}
	return key[open+1 : open+1+end]
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	res, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisCache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisCache) Version(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, versionKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (r *RedisCache) Bump(ctx context.Context, key string) error {
	vk := versionKey(key)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.Incr(ctx, vk)
		pipe.Expire(ctx, vk, versionTTL)
		return nil
	})
	return err
}

func (r *RedisCache) SetIfVersion(ctx context.Context, key string, version int64, value []byte, ttl time.Duration) (bool, error) {
	res, err := setIfVersion.Run(ctx, r.client,
		[]string{key, versionKey(key)},
		strconv.FormatInt(version, 10), value, ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}
