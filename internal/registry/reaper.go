package registry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/erazemk/evidenca/internal/model"
)

// ReapStats summarises one sweep.
type ReapStats struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	Released int `json:"released"`
	Failed   int `json:"failed"`
}

// Reap expires up to limit stale reservations. A limit outside
// 1..DefaultReaperBatch sweeps DefaultReaperBatch. A failure on one
// reservation is logged and counted; the sweep carries on with the rest.
func (r *Registry) Reap(ctx context.Context, limit int) (stats ReapStats, err error) {
	if limit <= 0 || limit > DefaultReaperBatch {
		limit = DefaultReaperBatch
	}
	ctx, span := r.start(ctx, "registry.reap", attribute.Int("evidenca.limit", limit))
	defer func() {
		span.SetAttributes(
			attribute.Int("evidenca.expired", stats.Expired),
			attribute.Int("evidenca.released", stats.Released),
			attribute.Int("evidenca.failed", stats.Failed),
		)
		finish(span, err)
	}()

	now := r.clock()
	stale, err := r.store.ListExpiredReservations(ctx, now, limit)
	if err != nil {
		return stats, fmt.Errorf("listing expired reservations: %w", err)
	}
	stats.Scanned = len(stale)

	for _, res := range stale {
		var expired, released bool
		err := r.store.WithTx(ctx, func(ctx context.Context) error {
			locked, err := r.store.GetReservationForUpdate(ctx, res.Token)
			if err != nil {
				return err
			}
			if locked.Status != model.ReservationActive || !locked.ExpiredAt(now) {
				return nil
			}
			expired = true
			released, err = r.expireLocked(ctx, locked, model.ActorSystem, now)
			return err
		})
		if err != nil {
			stats.Failed++
			r.logger.Error("expiring reservation", "reservation", res.Token, "unit", res.UnitID, "error", err)
			continue
		}
		if expired {
			stats.Expired++
		}
		if released {
			stats.Released++
		}
	}

	if stats.Expired > 0 || stats.Failed > 0 {
		r.logger.Info("reaper sweep finished",
			"expired", stats.Expired, "released", stats.Released, "failed", stats.Failed)
	}
	return stats, nil
}

// expireLocked marks an active reservation expired and returns its unit to
// the pool if the unit is still reserved. It must run inside a transaction
// holding the reservation.
func (r *Registry) expireLocked(ctx context.Context, res *model.Reservation, actor string, now time.Time) (bool, error) {
	if err := r.store.UpdateReservationStatus(ctx, res.Token, model.ReservationExpired, now); err != nil {
		return false, err
	}

	released, err := r.store.TransitionUnit(ctx, res.UnitID, model.UnitReserved, model.UnitAvailable, now)
	if err != nil {
		return false, err
	}

	err = r.appendEvent(ctx, res.UnitID, model.EventReservationExpired, actor, map[string]any{
		"reservation": res.Token,
		"released":    released,
	}, now)
	return released, err
}

// RunReaper sweeps every interval until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval time.Duration, batch int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", interval, "batch", batch)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopped")
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx, batch); err != nil && ctx.Err() == nil {
				r.logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}
