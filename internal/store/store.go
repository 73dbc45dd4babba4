// Package store defines the unit ledger: units, reservations, the audit event
// log, webhook receipts and operator settings.
//
// Every method takes a context. Inside WithTx the method runs on the
// transaction carried by that context, so a service can reload and mutate rows
// atomically without holding any in-process state between operations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/erazemk/evidenca/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist, or when no
	// lockable row matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert.
	ErrDuplicate = errors.New("duplicate")
)

// Setting keys.
const (
	SettingJWTSecret          = "jwt_secret"
	SettingAdminPasswordHash  = "admin_password_hash"
	SettingCommitmentRoot     = "commitment_root"
	SettingCommitmentTiers    = "commitment_tiers"
	SettingCommitmentSeedHash = "commitment_seed_hash"
	SettingCommitmentSeed     = "commitment_seed"
	SettingCommitmentCount    = "commitment_count"
)

// Store is the persistent unit ledger.
type Store interface {
	// WithTx runs fn in a transaction. Nested calls join the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// InsertUnits adds available units and returns the ids that were new.
	InsertUnits(ctx context.Context, ids []string, now time.Time) ([]string, error)
	// LockRandomAvailableUnit locks a uniformly random available unit, skipping
	// rows already locked by concurrent transactions.
	LockRandomAvailableUnit(ctx context.Context) (*model.Unit, error)
	GetUnit(ctx context.Context, id string) (*model.Unit, error)
	GetUnitForUpdate(ctx context.Context, id string) (*model.Unit, error)
	UpdateUnit(ctx context.Context, u *model.Unit) error
	// TransitionUnit changes the status only if the unit is currently in from.
	TransitionUnit(ctx context.Context, id string, from, to model.UnitStatus, now time.Time) (bool, error)
	ListUnitIDs(ctx context.Context) ([]string, error)
	CountUnitsByStatus(ctx context.Context) (map[model.UnitStatus]int, error)

	CreateReservation(ctx context.Context, r model.Reservation) error
	GetReservationForUpdate(ctx context.Context, token string) (*model.Reservation, error)
	UpdateReservationStatus(ctx context.Context, token string, status model.ReservationStatus, now time.Time) error
	// ListExpiredReservations returns active reservations whose expiry is at
	// or before now, oldest first.
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)

	AppendEvent(ctx context.Context, e model.Event) error
	ListUnitEvents(ctx context.Context, unitID string) ([]model.Event, error)

	// RecordWebhookReceipt returns false if the delivery id was already recorded.
	RecordWebhookReceipt(ctx context.Context, r model.WebhookReceipt) (bool, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
	// InsertSettingIfAbsent stores value unless key exists and returns the stored value.
	InsertSettingIfAbsent(ctx context.Context, key, value string) (string, error)

	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)

	Close() error
}
