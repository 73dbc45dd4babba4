package model

import "time"

// ReservationStatus is the state of a reservation.
type ReservationStatus string

// Reservation statuses.
const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationExpired   ReservationStatus = "expired"
)

// Reservation is an exclusive, time-bounded claim on one unit pending payment.
type Reservation struct {
	Token     string            `json:"reservation_token"`
	UnitID    string            `json:"unit_id"`
	Status    ReservationStatus `json:"status"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ExpiredAt reports whether the reservation's TTL has run out at now.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
