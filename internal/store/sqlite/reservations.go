package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

const reservationColumns = `token, unit_id, status, expires_at, created_at, updated_at`

func scanReservation(row scanner) (*model.Reservation, error) {
	var (
		r                               model.Reservation
		status                          string
		expiresAt, createdAt, updatedAt int64
	)
	if err := row.Scan(&r.Token, &r.UnitID, &status, &expiresAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	r.Status = model.ReservationStatus(status)
	r.ExpiresAt = fromMillis(expiresAt)
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return &r, nil
}

// CreateReservation inserts a reservation. A second active reservation for
// the same unit is rejected with store.ErrDuplicate.
func (s *Store) CreateReservation(ctx context.Context, r model.Reservation) error {
	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO reservations (`+reservationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		r.Token, r.UnitID, r.Status, toMillis(r.ExpiresAt), toMillis(r.CreatedAt), toMillis(r.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("creating reservation: %w", err)
	}
	return nil
}

// GetReservationForUpdate returns a reservation by token.
func (s *Store) GetReservationForUpdate(ctx context.Context, token string) (*model.Reservation, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE token = ?`, token,
	)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting reservation: %w", err)
	}
	return r, nil
}

// UpdateReservationStatus sets a reservation's status.
func (s *Store) UpdateReservationStatus(ctx context.Context, token string, status model.ReservationStatus, now time.Time) error {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE reservations SET status = ?, updated_at = ? WHERE token = ?`,
		status, toMillis(now), token,
	)
	if err != nil {
		return fmt.Errorf("updating reservation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListExpiredReservations returns up to limit active reservations that
// expired at or before now, oldest first.
func (s *Store) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = ? AND expires_at <= ?
		 ORDER BY expires_at, token
		 LIMIT ?`,
		model.ReservationActive, toMillis(now), limit,
	)
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
