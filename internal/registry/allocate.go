package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

// Allocate grants a temporary claim on one random available unit. It returns
// ErrNoInventory when no available unit can be locked.
func (r *Registry) Allocate(ctx context.Context) (res model.Reservation, err error) {
	ctx, span := r.start(ctx, "registry.allocate")
	defer func() { finish(span, err) }()

	now := r.clock()
	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := r.store.LockRandomAvailableUnit(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoInventory
		}
		if err != nil {
			return err
		}

		ok, err := r.store.TransitionUnit(ctx, u.ID, model.UnitAvailable, model.UnitReserved, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoInventory
		}

		res = model.Reservation{
			Token:     uuid.NewString(),
			UnitID:    u.ID,
			Status:    model.ReservationActive,
			ExpiresAt: now.Add(r.ttl),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := r.store.CreateReservation(ctx, res); err != nil {
			return fmt.Errorf("reserving unit %s: %w", u.ID, err)
		}

		return r.appendEvent(ctx, u.ID, model.EventReserved, model.ActorSystem, map[string]any{
			"reservation": res.Token,
			"expires_at":  res.ExpiresAt.Format(time.RFC3339),
		}, now)
	})
	if errors.Is(err, ErrNoInventory) {
		r.logger.Info("allocation found no inventory")
		return model.Reservation{}, err
	}
	if err != nil {
		r.logger.Error("allocation failed", "error", err)
		return model.Reservation{}, fmt.Errorf("allocating unit: %w", err)
	}

	span.SetAttributes(attribute.String("evidenca.unit", res.UnitID))
	r.logger.Info("unit reserved", "unit", res.UnitID, "reservation", res.Token, "expires_at", res.ExpiresAt)
	return res, nil
}
