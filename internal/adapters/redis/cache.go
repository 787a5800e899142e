package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
	"github.com/shopspring/decimal"
)

// Cache keeps read snapshots of performance ledgers. Reservations never read
// it; the SQL row is the only source of truth for capacity.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ port.AvailabilityCache = (*Cache)(nil)

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

type snapshot struct {
	ID        uuid.UUID `json:"id"`
	StartsAt  time.Time `json:"starts_at"`
	Capacity  int       `json:"capacity"`
	Available int       `json:"available"`
	Status    string    `json:"status"`
	UnitPrice string    `json:"unit_price"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func availabilityKey(id uuid.UUID) string {
	return "availability:" + id.String()
}

func (c *Cache) Put(ctx context.Context, p *domain.Performance) error {
	data, err := json.Marshal(snapshot{
		ID:        p.ID,
		StartsAt:  p.StartsAt,
		Capacity:  p.Capacity,
		Available: p.Available,
		Status:    p.Status.String(),
		UnitPrice: p.UnitPrice.String(),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, availabilityKey(p.ID), data, c.ttl).Err()
}

func (c *Cache) Get(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
	val, err := c.client.Get(ctx, availabilityKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s snapshot
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, errors.Wrapf(err, "decode availability of %s", id)
	}
	status, err := domain.ParsePerformanceStatus(s.Status)
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(s.UnitPrice)
	if err != nil {
		return nil, errors.Wrapf(err, "decode price of %s", id)
	}
	return &domain.Performance{
		ID:        s.ID,
		StartsAt:  s.StartsAt,
		Capacity:  s.Capacity,
		Available: s.Available,
		Status:    status,
		UnitPrice: price,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}, nil
}
