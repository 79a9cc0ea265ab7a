package webhook

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "webhook:deliveries"

// Queue is a redis sorted set of delivery IDs scored by due time. The
// database rows are the source of truth; the queue only decides when
// the dispatcher looks at them, so losing it costs latency, not
// deliveries.
type Queue struct {
	Redis *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{Redis: rdb}
}

func (q *Queue) Schedule(ctx context.Context, deliveryID string, at time.Time) error {
	return q.Redis.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(at.Unix()),
		Member: deliveryID,
	}).Err()
}

// PopDue removes and returns up to limit delivery IDs whose due time
// has passed. A single dispatcher owns the queue, so range-then-remove
// does not race.
func (q *Queue) PopDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	max := strconv.FormatInt(now.Unix(), 10)
	ids, err := q.Redis.ZRangeByScore(ctx, queueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: int64(limit),
	}).Result()
	if err != nil || len(ids) == 0 {
		return nil, err
	}

	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := q.Redis.ZRem(ctx, queueKey, members...).Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
