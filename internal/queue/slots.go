package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"
)

// acquireScript prunes slots older than the TTL, then admits the new slot
// token only under the ceiling. Pruning first means a crashed holder's slot
// stops counting after one TTL.
var acquireScript = r.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if redis.call("ZCARD", KEYS[1]) >= tonumber(ARGV[2]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1`)

// Slots bounds a caller's in-flight uploads. Each held slot is a token in a
// per-client ZSET scored by acquisition time.
type Slots struct{ rdb *r.Client }

func NewSlots(rdb *r.Client) *Slots { return &Slots{rdb} }

func slotKey(clientID string) string { return "slots:" + clientID }

// Acquire reserves one slot, failing fast when the client is at its
// ceiling. The returned token releases the slot.
func (s *Slots) Acquire(ctx context.Context, clientID string, limit int, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	now := time.Now().UnixMilli()
	cutoff := now - ttl.Milliseconds()
	res, err := acquireScript.Run(ctx, s.rdb, []string{slotKey(clientID)},
		strconv.FormatInt(cutoff, 10),
		strconv.Itoa(limit),
		strconv.FormatInt(now, 10),
		token,
		strconv.FormatInt(ttl.Milliseconds(), 10),
	).Int()
	if err != nil {
		return "", false, err
	}
	return token, res == 1, nil
}

func (s *Slots) Release(ctx context.Context, clientID, token string) error {
	return s.rdb.ZRem(ctx, slotKey(clientID), token).Err()
}

// Held reports the current in-flight count, ignoring expired slots.
func (s *Slots) Held(ctx context.Context, clientID string, ttl time.Duration) (int64, error) {
	cutoff := strconv.FormatInt(time.Now().UnixMilli()-ttl.Milliseconds(), 10)
	return s.rdb.ZCount(ctx, slotKey(clientID), "("+cutoff, "+inf").Result()
}
