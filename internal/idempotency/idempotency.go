package idempotency

import (
	"context"
	"time"

	redisadapter "github.com/robertarktes/performance-ticketing/internal/adapters/redis"
)

// Backend stores replayable responses. *redisadapter.Idempotency is the
// production implementation.
type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Idempotency struct {
	backend Backend
	ttl     time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Get returns the stored response for key, or nil if none was stored.
func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	stored, err := i.backend.Get(ctx, key)
	if err != nil || stored == nil {
		return nil, err
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	return i.backend.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}

// Begin claims key for one in-flight request. The lock outlives a crashed
// request by at most the idempotency TTL.
func (i *Idempotency) Begin(ctx context.Context, key string) (bool, error) {
	return i.backend.Lock(ctx, key, i.ttl)
}

func (i *Idempotency) End(ctx context.Context, key string) error {
	return i.backend.Unlock(ctx, key)
}
