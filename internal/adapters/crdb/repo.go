package crdb

import (
	"context"
	_ "embed"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/performance-ticketing/internal/domain"
	"github.com/robertarktes/performance-ticketing/internal/observability"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

const (
	SerializationFailureCode = "40001"
)

//go:embed schema.sql
var schema string

type Repository struct {
	pool *pgxpool.Pool
}

var _ port.Store = (*Repository)(nil)

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Migrate creates the tables if they do not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx port.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE")
	if err != nil {
		return mapTxErr(err)
	}

	if err := fn(ctx, &Tx{tx: tx}); err != nil {
		return mapTxErr(err)
	}

	return mapTxErr(tx.Commit(ctx))
}

func mapTxErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
		return errors.Mark(errors.Wrap(err, "transaction retry"), domain.ErrSerializationFailure)
	}
	return err
}

// Tx implements port.Tx over one pgx transaction. It is not safe for
// concurrent use.
type Tx struct {
	tx pgx.Tx
}

var _ port.Tx = (*Tx)(nil)
