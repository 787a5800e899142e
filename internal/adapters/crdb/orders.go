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

const orderColumns = `id, user_id, status, total_price::STRING, payment_reference, created_at, updated_at`

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
		total  string
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &total, &o.PaymentReference, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if o.Status, err = domain.ParseOrderStatus(status); err != nil {
		return nil, err
	}
	if o.TotalPrice, err = decimal.NewFromString(total); err != nil {
		return nil, errors.Wrapf(err, "order %s total", o.ID)
	}
	return &o, nil
}

func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, user_id, status, total_price, payment_reference, created_at, updated_at)
		VALUES ($1, $2, $3, $4::DECIMAL, $5, $6, $7)
	`, o.ID, o.UserID, o.Status.String(), o.TotalPrice.String(), o.PaymentReference, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return errors.Wrapf(err, "insert order %s", o.ID)
	}

	batch := &pgx.Batch{}
	for i, l := range o.Lines {
		batch.Queue(`
			INSERT INTO order_items (order_id, line_no, performance_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5::DECIMAL)
		`, o.ID, i, l.PerformanceID, l.Quantity, l.UnitPrice.String())
	}
	return errors.Wrapf(t.sendBatch(ctx, batch), "insert lines of order %s", o.ID)
}

func (t *Tx) UpdateOrder(ctx context.Context, o *domain.Order, expected domain.OrderStatus) error {
	result, err := t.tx.Exec(ctx, `
		UPDATE orders SET status = $2, payment_reference = $3, updated_at = $4
		WHERE id = $1 AND status = $5
	`, o.ID, o.Status.String(), o.PaymentReference, o.UpdatedAt, expected.String())
	if err != nil {
		return errors.Wrapf(err, "update order %s", o.ID)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
			return errors.Wrapf(err, "check order %s", o.ID)
		}
		if !exists {
			return domain.NotFoundf("order %s not found", o.ID)
		}
		return errors.Wrapf(domain.ErrConflict, "order %s is no longer %s", o.ID, expected)
	}
	return nil
}

func (t *Tx) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("order %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load order %s", id)
	}
	if err := t.loadChildren(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (t *Tx) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, errors.Wrapf(err, "list orders of %s", userID)
	}
	var orders []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := t.loadChildren(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (t *Tx) ListStalePendingOrders(ctx context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	return t.ids(ctx, `
		SELECT id FROM orders WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at LIMIT $2
	`, before, limit)
}

func (t *Tx) loadChildren(ctx context.Context, o *domain.Order) error {
	rows, err := t.tx.Query(ctx, `
		SELECT performance_id, quantity, unit_price::STRING
		FROM order_items WHERE order_id = $1 ORDER BY line_no
	`, o.ID)
	if err != nil {
		return errors.Wrapf(err, "load lines of order %s", o.ID)
	}
	o.Lines = nil
	for rows.Next() {
		var (
			l     domain.OrderLine
			price string
		)
		if err := rows.Scan(&l.PerformanceID, &l.Quantity, &price); err != nil {
			rows.Close()
			return err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			rows.Close()
			return errors.Wrapf(err, "order %s line price", o.ID)
		}
		o.Lines = append(o.Lines, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = t.tx.Query(ctx, `
		SELECT `+ticketColumns+` FROM tickets WHERE order_id = $1 ORDER BY id
	`, o.ID)
	if err != nil {
		return errors.Wrapf(err, "load tickets of order %s", o.ID)
	}
	defer rows.Close()
	o.Tickets = nil
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return err
		}
		o.Tickets = append(o.Tickets, tk)
	}
	return rows.Err()
}

func (t *Tx) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := t.tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return err
		}
	}
	return br.Close()
}
