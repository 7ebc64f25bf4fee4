package queue

import (
	"context"
	"fmt"
	"time"

	r "github.com/redis/go-redis/v9"
)

// RedisQ is a per-tenant ready list plus a delay ZSET, namespaced by queue
// name so the job queue and the webhook queue stay decoupled.
type RedisQ struct {
	rdb  *r.Client
	name string
}

func New(rdb *r.Client, name string) *RedisQ { return &RedisQ{rdb, name} }

func (q *RedisQ) readyKey(tenant string) string { return q.name + ":queue:" + tenant }
func (q *RedisQ) delayKey(tenant string) string { return q.name + ":delay:" + tenant }

// Enqueue pushes a member for immediate work, or parks it in the delay ZSET
// until runAt when runAt is in the future.
func (q *RedisQ) Enqueue(ctx context.Context, tenant, member string, runAt time.Time) error {
	if time.Until(runAt) > 0 {
		return q.rdb.ZAdd(ctx, q.delayKey(tenant), r.Z{Score: float64(runAt.Unix()), Member: member}).Err()
	}
	return q.rdb.LPush(ctx, q.readyKey(tenant), member).Err()
}

// Dequeue blocks on the ready lists of all given tenants. Key order is the
// pop priority, so callers rotate the tenant slice for fairness.
func (q *RedisQ) Dequeue(ctx context.Context, tenants []string, block time.Duration) (tenant, member string, err error) {
	keys := make([]string, len(tenants))
	for i, t := range tenants {
		keys[i] = q.readyKey(t)
	}
	res, err := q.rdb.BRPop(ctx, block, keys...).Result()
	if err != nil {
		return "", "", err
	}
	if len(res) != 2 {
		return "", "", nil
	}
	return res[0][len(q.name+":queue:"):], res[1], nil
}

// MoveDue shifts members whose delay has elapsed onto the ready list.
func (q *RedisQ) MoveDue(ctx context.Context, tenant string, now int64, batch int64) error {
	members, err := q.rdb.ZRangeByScore(ctx, q.delayKey(tenant), &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(members) == 0 {
		return err
	}
	pipe := q.rdb.TxPipeline()
	for _, m := range members {
		pipe.LPush(ctx, q.readyKey(tenant), m)
		pipe.ZRem(ctx, q.delayKey(tenant), m)
	}
	_, err = pipe.Exec(ctx)
	return err
}
