package saga

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/performance-ticketing/internal/port"
)

// RegisterUser records an identity issued by the token provider so it can
// place orders. Registering twice is a no-op.
func (o *Orchestrator) RegisterUser(ctx context.Context, userID uuid.UUID) error {
	return o.store.WithTx(ctx, func(ctx context.Context, tx port.Tx) error {
		return tx.InsertUser(ctx, userID)
	})
}
