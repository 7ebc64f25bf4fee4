package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"
)

// unlockScript releases a lock only for the holder that took it, so a slow
// request cannot free a lock that already expired and was re-acquired.
var unlockScript = r.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker is the advisory upload lock: SET NX with a TTL, so a crashed
// holder frees the lock within one TTL without any cleanup path.
type Locker struct{ rdb *r.Client }

func NewLocker(rdb *r.Client) *Locker { return &Locker{rdb} }

// TryLock attempts the lock once and never blocks. The returned token is
// required to unlock.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	return unlockScript.Run(ctx, l.rdb, []string{"lock:" + key}, token).Err()
}
