package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/caremesh/hospital-booking/internal/observability"
)

// Reconciler repairs slot occupancy drift: for every slot record it
// recomputes the count of active appointments on the tuple and rewrites
// the stored count when the two disagree. All mutation in the request path
// goes through tryAcquire/release, so drift only appears after operator
// surgery or a bug. The occupancy invariant is worth a periodic sweep anyway.
type Reconciler struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	metrics *observability.BookingMetrics
}

func NewReconciler(pool *pgxpool.Pool, logger *zap.Logger, metrics *observability.BookingMetrics) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{pool: pool, logger: logger, metrics: metrics}
}

type drift struct {
	SlotID   uuid.UUID
	Stored   int
	Actual   int
	MaxAppts int
}

// RunOnce finds and repairs every drifted slot. Each repair is its own
// transaction-free single UPDATE; the conditional WHERE re-checks the
// stored count so a repair racing a live booking is skipped, not clobbered.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT hs.id, hs.current_appointments, hs.max_appointments, COUNT(a.id) AS active
		FROM hospital_slots hs
		LEFT JOIN appointments a
		  ON a.hospital_id = hs.hospital_id
		 AND a.slot_date = hs.slot_date
		 AND a.time_slot = hs.time_slot
		 AND a.status IN ('scheduled', 'confirmed')
		GROUP BY hs.id, hs.current_appointments, hs.max_appointments
		HAVING hs.current_appointments <> COUNT(a.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("find drifted slots: %w", err)
	}
	defer rows.Close()

	var drifted []drift
	for rows.Next() {
		var d drift
		var active int64
		if err := rows.Scan(&d.SlotID, &d.Stored, &d.MaxAppts, &active); err != nil {
			return 0, err
		}
		d.Actual = int(active)
		drifted = append(drifted, d)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	repaired := 0
	for _, d := range drifted {
		target := d.Actual
		if target > d.MaxAppts {
			target = d.MaxAppts
		}

		// Never force is_available back on: a false flag below capacity may
		// be a manual hospital override. Only clear it when the slot fills.
		tag, err := r.pool.Exec(ctx, `
			UPDATE hospital_slots
			SET current_appointments = $2,
			    is_available = CASE WHEN $2 >= max_appointments THEN FALSE ELSE is_available END,
			    updated_at = now()
			WHERE id = $1 AND current_appointments = $3
		`, d.SlotID, target, d.Stored)
		if err != nil {
			r.logger.Error("slot repair failed",
				zap.String("slot_id", d.SlotID.String()),
				zap.Error(err),
			)
			continue
		}
		if tag.RowsAffected() == 0 {
			// A live booking changed the count since we looked; leave it.
			continue
		}

		repaired++
		r.metrics.ObserveReconcilerRepair()
		r.logger.Warn("repaired slot occupancy drift",
			zap.String("slot_id", d.SlotID.String()),
			zap.Int("stored", d.Stored),
			zap.Int("actual", d.Actual),
		)
	}

	return repaired, nil
}

// Run loops RunOnce until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	repaired, err := r.RunOnce(runCtx)
	if err != nil {
		r.logger.Error("reconcile sweep failed", zap.Error(err))
		return
	}
	r.logger.Info("reconcile sweep complete",
		zap.Int("repaired", repaired),
		zap.Duration("took", time.Since(start)),
	)
}
