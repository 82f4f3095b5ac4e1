// Package lock provides a short-lived mutual exclusion over Redis, used to
// stop one registrant from starting two checkouts for the same event at
// once.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrHeld is returned when another caller holds the lock.
var ErrHeld = errors.New("lock held")

// unlock deletes the key only if it still carries our token.
var unlock = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// Locker hands out locks under a key prefix.  A nil Redis client makes
// every Acquire succeed; the database transaction remains the real guard.
type Locker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// New returns a Locker.  ttl bounds how long a crashed holder blocks others.
func New(rdb *redis.Client, prefix string, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Acquire takes the lock named key.  The returned function releases it.
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	if l == nil || l.rdb == nil {
		return func() {}, nil
	}
	full := l.prefix + ":" + key
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		// Redis trouble must not block registrations
		return func() {}, nil
	}
	if !ok {
		return nil, ErrHeld
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = unlock.Run(ctx, l.rdb, []string{full}, token).Err()
	}, nil
}
