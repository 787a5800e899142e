package redis

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

const compensationsKey = "compensations:pending"

// CompensationQueue is a FIFO list of compensations waiting for the worker.
type CompensationQueue struct {
	client *redis.Client
	key    string
}

var _ port.CompensationQueue = (*CompensationQueue)(nil)

func NewCompensationQueue(client *redis.Client) *CompensationQueue {
	return &CompensationQueue{client: client, key: compensationsKey}
}

func (q *CompensationQueue) Push(ctx context.Context, c domain.Compensation) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return errors.Wrap(q.client.RPush(ctx, q.key, data).Err(), "queue compensation")
}

func (q *CompensationQueue) Pop(ctx context.Context) (*domain.Compensation, error) {
	val, err := q.client.LPop(ctx, q.key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "pop compensation")
	}
	var c domain.Compensation
	if err := json.Unmarshal(val, &c); err != nil {
		return nil, errors.Wrap(err, "decode compensation")
	}
	return &c, nil
}

func (q *CompensationQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
