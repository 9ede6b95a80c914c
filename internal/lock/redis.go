package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still carries our token,
// so an expired lock that was re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Locker shared by every server instance pointing at the same
// Redis.  Locks expire after TTL so a crashed holder cannot wedge a book
// forever; TTL must comfortably exceed the longest critical section.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	poll   time.Duration
}

// NewRedis returns a Redis locker.  Keys are stored as prefix:key.
func NewRedis(rdb *redis.Client, prefix string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, poll: 5 * time.Millisecond}
}

// Lock spins with capped backoff until SET NX succeeds or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + ":" + key
	token := uuid.NewString()
	wait := r.poll
	for {
		ok, err := r.rdb.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if wait < 100*time.Millisecond {
			wait *= 2
		}
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		// Use a fresh context: the caller's may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(rctx, r.rdb, []string{full}, token).Err()
	}, nil
}
