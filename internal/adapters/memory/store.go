package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

// Store is an in-process unit of work with the same contract as the SQL
// store. One transaction runs at a time; its writes land on commit only.
// Every transaction works on a full copy of the state, so its cost grows with
// the number of stored rows and all callers queue on a single lock. It is
// meant for tests and small local runs, not for load.
type Store struct {
	mu    sync.Mutex
	state *state
}

type outboxRow struct {
	event       domain.OutboxEvent
	publishedAt *time.Time
}

type state struct {
	users        map[uuid.UUID]struct{}
	performances map[uuid.UUID]domain.Performance
	orders       map[uuid.UUID]domain.Order
	tickets      map[uuid.UUID]domain.Ticket
	outbox       []outboxRow
}

func NewStore() *Store {
	return &Store{state: &state{
		users:        map[uuid.UUID]struct{}{},
		performances: map[uuid.UUID]domain.Performance{},
		orders:       map[uuid.UUID]domain.Order{},
		tickets:      map[uuid.UUID]domain.Ticket{},
	}}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{st: s.state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.state = tx.st
	return nil
}

// AddUser registers a known user id. Registration itself lives elsewhere.
func (s *Store) AddUser(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.users[id] = struct{}{}
}

// Outbox returns every event written so far, published or not.
func (s *Store) Outbox() []domain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.OutboxEvent, 0, len(s.state.outbox))
	for _, r := range s.state.outbox {
		out = append(out, r.event)
	}
	return out
}

// TicketCount counts stored tickets of a performance that are not cancelled.
func (s *Store) TicketCount(performanceID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.state.tickets {
		if t.PerformanceID == performanceID && t.Status != domain.TicketCancelled {
			n++
		}
	}
	return n
}

func (st *state) clone() *state {
	c := &state{
		users:        make(map[uuid.UUID]struct{}, len(st.users)),
		performances: make(map[uuid.UUID]domain.Performance, len(st.performances)),
		orders:       make(map[uuid.UUID]domain.Order, len(st.orders)),
		tickets:      make(map[uuid.UUID]domain.Ticket, len(st.tickets)),
		outbox:       append([]outboxRow(nil), st.outbox...),
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.performances {
		c.performances[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.tickets {
		c.tickets[k] = v
	}
	return c
}

type Tx struct {
	st *state
}

var _ port.Tx = (*Tx)(nil)

func (t *Tx) UserExists(_ context.Context, userID uuid.UUID) (bool, error) {
	_, ok := t.st.users[userID]
	return ok, nil
}

func (t *Tx) InsertUser(_ context.Context, userID uuid.UUID) error {
	t.st.users[userID] = struct{}{}
	return nil
}

func (t *Tx) GetPerformance(_ context.Context, id uuid.UUID) (*domain.Performance, error) {
	p, ok := t.st.performances[id]
	if !ok {
		return nil, domain.NotFoundf("performance %s not found", id)
	}
	return &p, nil
}

func (t *Tx) LockPerformance(ctx context.Context, id uuid.UUID) (*domain.Performance, error) {
	return t.GetPerformance(ctx, id)
}

func (t *Tx) InsertPerformance(_ context.Context, p *domain.Performance) error {
	if _, ok := t.st.performances[p.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "performance %s already exists", p.ID)
	}
	t.st.performances[p.ID] = *p
	return nil
}

func (t *Tx) UpdatePerformance(_ context.Context, p *domain.Performance) error {
	if _, ok := t.st.performances[p.ID]; !ok {
		return domain.NotFoundf("performance %s not found", p.ID)
	}
	t.st.performances[p.ID] = *p
	return nil
}

func (t *Tx) ListPerformancesToComplete(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, p := range t.st.performances {
		if p.Status.Bookable() && !p.StartsAt.After(before) {
			ids = append(ids, id)
		}
	}
	return capIDs(ids, limit), nil
}

func (t *Tx) ReserveCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error) {
	p, err := t.GetPerformance(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Reserve(quantity); err != nil {
		return nil, err
	}
	t.st.performances[id] = *p
	return p, nil
}

func (t *Tx) ReleaseCapacity(ctx context.Context, id uuid.UUID, quantity int) (*domain.Performance, error) {
	p, err := t.GetPerformance(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := p.Release(quantity); err != nil {
		return nil, err
	}
	t.st.performances[id] = *p
	return p, nil
}

func (t *Tx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return errors.Wrapf(domain.ErrConflict, "order %s already exists", o.ID)
	}
	row := *o
	row.Lines = append([]domain.OrderLine(nil), o.Lines...)
	row.Tickets = nil
	t.st.orders[o.ID] = row
	return nil
}

func (t *Tx) UpdateOrder(_ context.Context, o *domain.Order, expected domain.OrderStatus) error {
	row, ok := t.st.orders[o.ID]
	if !ok {
		return domain.NotFoundf("order %s not found", o.ID)
	}
	if row.Status != expected {
		return errors.Wrapf(domain.ErrConflict, "order %s is %s, expected %s", o.ID, row.Status, expected)
	}
	row.Status = o.Status
	row.PaymentReference = o.PaymentReference
	row.UpdatedAt = o.UpdatedAt
	t.st.orders[o.ID] = row
	return nil
}

func (t *Tx) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	row, ok := t.st.orders[id]
	if !ok {
		return nil, domain.NotFoundf("order %s not found", id)
	}
	return t.hydrate(row), nil
}

func (t *Tx) ListOrdersByUser(_ context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, row := range t.st.orders {
		if row.UserID == userID {
			out = append(out, t.hydrate(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (t *Tx) ListStalePendingOrders(_ context.Context, before time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, row := range t.st.orders {
		if row.Status == domain.OrderPending && row.CreatedAt.Before(before) {
			ids = append(ids, id)
		}
	}
	return capIDs(ids, limit), nil
}

func (t *Tx) InsertTickets(_ context.Context, tickets []*domain.Ticket) error {
	for _, tk := range tickets {
		if _, ok := t.st.tickets[tk.ID]; ok {
			return errors.Wrapf(domain.ErrConflict, "ticket %s already exists", tk.ID)
		}
		t.st.tickets[tk.ID] = *tk
	}
	return nil
}

func (t *Tx) UpdateTickets(_ context.Context, tickets []*domain.Ticket) error {
	for _, tk := range tickets {
		if _, ok := t.st.tickets[tk.ID]; !ok {
			continue
		}
		t.st.tickets[tk.ID] = *tk
	}
	return nil
}

func (t *Tx) GetTicket(_ context.Context, id uuid.UUID) (*domain.Ticket, error) {
	tk, ok := t.st.tickets[id]
	if !ok {
		return nil, domain.NotFoundf("ticket %s not found", id)
	}
	return &tk, nil
}

func (t *Tx) InsertOutbox(_ context.Context, e domain.OutboxEvent) error {
	t.st.outbox = append(t.st.outbox, outboxRow{event: e})
	return nil
}

func (t *Tx) ClaimOutbox(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	for _, r := range t.st.outbox {
		if r.publishedAt != nil {
			continue
		}
		out = append(out, r.event)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *Tx) MarkOutboxPublished(_ context.Context, ids []uuid.UUID, at time.Time) error {
	set := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range t.st.outbox {
		if _, ok := set[t.st.outbox[i].event.ID]; ok {
			ts := at
			t.st.outbox[i].publishedAt = &ts
		}
	}
	return nil
}

func (t *Tx) hydrate(row domain.Order) *domain.Order {
	o := row
	o.Lines = append([]domain.OrderLine(nil), row.Lines...)
	o.Tickets = nil
	for _, tk := range t.st.tickets {
		if tk.OrderID == row.ID {
			tk := tk
			o.Tickets = append(o.Tickets, &tk)
		}
	}
	sort.Slice(o.Tickets, func(i, j int) bool { return o.Tickets[i].ID.String() < o.Tickets[j].ID.String() })
	return &o
}

func capIDs(ids []uuid.UUID, limit int) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}
