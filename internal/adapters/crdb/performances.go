package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/shopspring/decimal"
)

const performanceColumns = `id, starts_at, capacity, available, status, unit_price::STRING, created_at, updated_at`

func scanPerformance(row pgx.Row) (*domain.Performance, error) {
	var (
		p      domain.Performance
		status string
		price  string
	)
	if err := row.Scan(&p.ID, &p.StartsAt, &p.Capacity, &p.Available, &status, &price, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if p.Status, err = domain.ParsePerformanceStatus(status); err != nil {
		return nil, err
	}
	if p.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, errors.Wrapf(err, "performance %s unit price", p.ID)
	}
	return &p, nil
}

func (t *Tx) UserExists(ctx context.Context, userID uuid.UUID) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, errors.Wrap(err, "check user")
}

func (t *Tx) InsertUser(ctx context.Context, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, userID)
	return errors.Wrap(err, "insert user")
}

func (t *Tx) GetPerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
	return t.selectPerformance(ctx, id, "")
}

func (t *Tx) LockPerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
	return t.selectPerformance(ctx, id, " FOR UPDATE")
}

func (t *Tx) selectPerformance(ctx context.Context, id uuid.UUID, suffix string) (*domain.Performance, error) {
	p, err := scanPerformance(t.tx.QueryRow(ctx,
		`SELECT `+performanceColumns+` FROM performances WHERE id = $1`+suffix, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("performance %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load performance %s", id)
	}
	return p, nil
}

func (t *Tx) InsertPerformance(ctx context.Context, p *domain.Performance) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO performances (id, starts_at, capacity, available, status, unit_price, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::DECIMAL, $7, $8)
	`, p.ID, p.StartsAt, p.Capacity, p.Available, p.Status.String(), p.UnitPrice.String(), p.CreatedAt, p.UpdatedAt)
	return errors.Wrapf(err, "insert performance %s", p.ID)
}

// UpdatePerformance writes a row the caller read with LockPerformance.
func (t *Tx) UpdatePerformance(ctx context.Context, p *domain.Performance) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE performances
		SET starts_at = $2, capacity = $3, available = $4, status = $5, unit_price = $6::DECIMAL, updated_at = $7
		WHERE id = $1
	`, p.ID, p.StartsAt, p.Capacity, p.Available, p.Status.String(), p.UnitPrice.String(), p.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "update performance %s", p.ID)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFoundf("performance %s not found", p.ID)
	}
	return nil
}

func (t *Tx) ListPerformancesToComplete(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	return t.ids(ctx, `
		SELECT id FROM performances
		WHERE status IN ('SCHEDULED', 'SOLD_OUT') AND starts_at <= $1
		ORDER BY starts_at LIMIT $2
	`, before, limit)
}

// ReserveCapacity decrements in a single conditional statement. When no row
// matches, the row is read back only to explain the refusal.
func (t *Tx) ReserveCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error) {
	if quantity <= 0 {
		return nil, (&domain.Performance{ID: id, Status: domain.PerformanceScheduled}).Reserve(quantity)
	}
	p, err := scanPerformance(t.tx.QueryRow(ctx, `
		UPDATE performances
		SET available = available - $2,
			status = CASE WHEN available - $2 = 0 THEN 'SOLD_OUT' ELSE 'SCHEDULED' END,
			updated_at = now()
		WHERE id = $1 AND available >= $2 AND status IN ('SCHEDULED', 'SOLD_OUT')
		RETURNING `+performanceColumns, id, quantity))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(err, "reserve %d on performance %s", quantity, id)
	}

	current, err := t.GetPerformance(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := current.Reserve(quantity); err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(domain.ErrConflict, "performance %s changed during reservation", id)
}

// ReleaseCapacity never lets available exceed capacity. A refused release
// is an accounting fault upstream and comes back as domain.ErrOverRelease.
func (t *Tx) ReleaseCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error) {
	if quantity <= 0 {
		return nil, (&domain.Performance{ID: id}).Release(quantity)
	}
	p, err := scanPerformance(t.tx.QueryRow(ctx, `
		UPDATE performances
		SET available = available + $2,
			status = CASE WHEN status IN ('SCHEDULED', 'SOLD_OUT') THEN 'SCHEDULED' ELSE status END,
			updated_at = now()
		WHERE id = $1 AND available + $2 <= capacity
		RETURNING `+performanceColumns, id, quantity))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(err, "release %d on performance %s", quantity, id)
	}

	current, err := t.GetPerformance(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := current.Release(quantity); err != nil {
		return nil, err
	}
	return nil, errors.Wrapf(domain.ErrConflict, "performance %s changed during release", id)
}

func (t *Tx) ids(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query ids")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
