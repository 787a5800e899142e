package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/shopspring/decimal"
)

const ticketColumns = `id, order_id, performance_id, status, unit_price::STRING, created_at, updated_at`

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var (
		tk     domain.Ticket
		status string
		price  string
	)
	if err := row.Scan(&tk.ID, &tk.OrderID, &tk.PerformanceID, &status, &price, &tk.CreatedAt, &tk.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if tk.Status, err = domain.ParseTicketStatus(status); err != nil {
		return nil, err
	}
	if tk.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, errors.Wrapf(err, "ticket %s price", tk.ID)
	}
	return &tk, nil
}

func (t *Tx) InsertTickets(ctx context.Context, tickets []*domain.Ticket) error {
	batch := &pgx.Batch{}
	for _, tk := range tickets {
		batch.Queue(`
			INSERT INTO tickets (id, order_id, performance_id, status, unit_price, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5::DECIMAL, $6, $7)
		`, tk.ID, tk.OrderID, tk.PerformanceID, tk.Status.String(), tk.UnitPrice.String(), tk.CreatedAt, tk.UpdatedAt)
	}
	return errors.Wrap(t.sendBatch(ctx, batch), "insert tickets")
}

// UpdateTickets writes status changes only; price and ownership never change.
func (t *Tx) UpdateTickets(ctx context.Context, tickets []*domain.Ticket) error {
	batch := &pgx.Batch{}
	for _, tk := range tickets {
		batch.Queue(`UPDATE tickets SET status = $2, updated_at = $3 WHERE id = $1`,
			tk.ID, tk.Status.String(), tk.UpdatedAt)
	}
	return errors.Wrap(t.sendBatch(ctx, batch), "update tickets")
}

func (t *Tx) GetTicket(ctx context.Context, id uuid.UUID) (*domain.Ticket, error) {
	tk, err := scanTicket(t.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.NotFoundf("ticket %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load ticket %s", id)
	}
	return tk, nil
}
