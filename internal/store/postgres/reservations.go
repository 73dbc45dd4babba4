package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

const reservationColumns = `token, unit_id, status, expires_at, created_at, updated_at`

func scanReservation(row pgx.Row) (*model.Reservation, error) {
	var (
		r      model.Reservation
		status string
	)
	if err := row.Scan(&r.Token, &r.UnitID, &status, &r.ExpiresAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.ReservationStatus(status)
	return &r, nil
}

// CreateReservation inserts a reservation. A second active reservation for
// the same unit is rejected with store.ErrDuplicate.
func (s *Store) CreateReservation(ctx context.Context, r model.Reservation) error {
	_, err := s.exec(ctx, `
INSERT INTO reservations (`+reservationColumns+`)
VALUES ($1, $2, $3, $4, $5, $6)`,
		r.Token, r.UnitID, string(r.Status), r.ExpiresAt, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("creating reservation: %w", err)
	}
	return nil
}

// GetReservationForUpdate returns a reservation and holds its row lock until
// the transaction ends.
func (s *Store) GetReservationForUpdate(ctx context.Context, token string) (*model.Reservation, error) {
	r, err := scanReservation(s.queryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE token = $1 FOR UPDATE`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting reservation: %w", err)
	}
	return r, nil
}

// UpdateReservationStatus sets a reservation's status.
func (s *Store) UpdateReservationStatus(ctx context.Context, token string, status model.ReservationStatus, now time.Time) error {
	tag, err := s.exec(ctx,
		`UPDATE reservations SET status = $2, updated_at = $3 WHERE token = $1`,
		token, string(status), now,
	)
	if err != nil {
		return fmt.Errorf("updating reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListExpiredReservations returns up to limit active reservations that
// expired at or before now, oldest first. Rows another sweeper holds are
// skipped.
func (s *Store) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	rows, err := s.query(ctx, `
SELECT `+reservationColumns+`
FROM reservations
WHERE status = $1 AND expires_at <= $2
ORDER BY expires_at, token
LIMIT $3
FOR UPDATE SKIP LOCKED`, string(model.ReservationActive), now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expired reservations: %w", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reservation: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
