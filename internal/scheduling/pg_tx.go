package scheduling

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgTxManager binds both stores to one pgx transaction per call.
type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

func (m *PgTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// Rollback is a no-op once the tx committed.
	defer func() { _ = tx.Rollback(ctx) }()

	s := Stores{
		Slots:        NewPgSlotStore(tx),
		Appointments: NewPgAppointmentStore(tx),
	}

	if err := fn(ctx, s); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
