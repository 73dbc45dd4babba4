package registry

import (
	"errors"
	"fmt"
	"time"
)

// Exhaustion. Expected and retryable by the end user.
var ErrNoInventory = errors.New("no inventory available")

// Authenticity and input errors.
var (
	ErrInvalidSignature  = errors.New("invalid webhook signature")
	ErrMissingDeliveryID = errors.New("missing delivery id")
	ErrInvalidPayload    = errors.New("invalid order payload")
	ErrUnsupportedTopic  = errors.New("unsupported delivery topic")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidTiers      = errors.New("invalid tier table")
	ErrInvalidUnitID     = errors.New("invalid unit id")
)

// Lookup errors.
var (
	ErrUnitNotFound        = errors.New("unit not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// Conflicts. Nothing is mutated when one of these is returned.
var (
	ErrReservationNotActive = errors.New("reservation is not active")
	ErrReservationExpired   = errors.New("reservation has expired")
	ErrUnitAlreadyActivated = errors.New("unit is already activated")
	ErrUnitNotAssigned      = errors.New("unit is not assigned")
	ErrPINNotSet            = errors.New("unit has no pin")
	ErrAlreadyCommitted     = errors.New("rarity is already committed")
	ErrNotCommitted         = errors.New("rarity is not committed")
	ErrSeedMismatch         = errors.New("seed does not match the committed hash")
)

// Verification failures.
var (
	ErrInvalidPIN        = errors.New("invalid pin")
	ErrInvalidProofToken = errors.New("invalid proof token")
	ErrUnitLocked        = errors.New("unit is locked")
)

// LockedError is returned while PIN verification is suspended. It matches
// ErrUnitLocked.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("unit is locked until %s", e.Until.Format(time.RFC3339))
}

// Is reports whether target is ErrUnitLocked.
func (e *LockedError) Is(target error) bool {
	return target == ErrUnitLocked
}

// expected reports whether err is a domain outcome rather than a fault.
func expected(err error) bool {
	for _, e := range []error{
		ErrNoInventory, ErrInvalidSignature, ErrMissingDeliveryID, ErrInvalidPayload, ErrUnsupportedTopic,
		ErrInvalidEmail, ErrInvalidTiers, ErrInvalidUnitID, ErrUnitNotFound, ErrReservationNotFound,
		ErrReservationNotActive, ErrReservationExpired, ErrUnitAlreadyActivated, ErrUnitNotAssigned,
		ErrPINNotSet, ErrAlreadyCommitted, ErrNotCommitted, ErrSeedMismatch, ErrInvalidPIN,
		ErrInvalidProofToken, ErrUnitLocked,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
