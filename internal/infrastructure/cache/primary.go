package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// primaryStore is the narrow command surface the Store needs from the
// distributed tier: plain GET/SET-with-TTL/DEL plus set membership for the
// tag index. Kept as an interface so tests can run against an in-memory
// fake without a Redis server.
type primaryStore interface {
	// get returns the payload for key. ok=false means a clean miss;
	// err is reserved for I/O failures.
	get(ctx context.Context, key string) (data []byte, ok bool, err error)

	set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	del(ctx context.Context, keys ...string) error

	// addTagMember adds a composed key to the tag's member set.
	addTagMember(ctx context.Context, tagKey, member string) error

	// tagMembers returns all composed keys recorded under the tag.
	tagMembers(ctx context.Context, tagKey string) ([]string, error)

	// expireAtLeast extends the key's TTL to at least the given duration;
	// an existing longer TTL is left untouched.
	expireAtLeast(ctx context.Context, key string, ttl time.Duration) error
}

// redisPrimary adapts a go-redis client to the primaryStore surface.
type redisPrimary struct {
	rdb redis.UniversalClient
}

func newRedisPrimary(rdb redis.UniversalClient) *redisPrimary {
	return &redisPrimary{rdb: rdb}
}

func (r *redisPrimary) get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (r *redisPrimary) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, data, ttl).Err()
}

func (r *redisPrimary) del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.rdb.Del(ctx, keys...).Err()
}

func (r *redisPrimary) addTagMember(ctx context.Context, tagKey, member string) error {
	return r.rdb.SAdd(ctx, tagKey, member).Err()
}

func (r *redisPrimary) tagMembers(ctx context.Context, tagKey string) ([]string, error) {
	return r.rdb.SMembers(ctx, tagKey).Result()
}

func (r *redisPrimary) expireAtLeast(ctx context.Context, key string, ttl time.Duration) error {
	// ExpireGT only moves the expiry forward, which gives the
	// at-least-the-longest semantics the tag index needs. It reports false
	// both when the current TTL is already longer and when the key has no
	// TTL at all; only the latter needs a plain EXPIRE.
	ok, err := r.rdb.ExpireGT(ctx, key, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		cur, terr := r.rdb.TTL(ctx, key).Result()
		if terr != nil {
			return terr
		}
		if cur < 0 {
			return r.rdb.Expire(ctx, key, ttl).Err()
		}
	}
	return nil
}
