package model

import "time"

// UnitStatus is the lifecycle state of a unit.
type UnitStatus string

// Unit statuses. ShopifyFailed is the fault branch entered when the
// post-payment commerce notification fails; the assignment is kept.
const (
	UnitAvailable     UnitStatus = "available"
	UnitReserved      UnitStatus = "reserved"
	UnitAssigned      UnitStatus = "assigned"
	UnitActivated     UnitStatus = "activated"
	UnitShopifyFailed UnitStatus = "shopify_failed"
)

// UnitStatuses lists every status in lifecycle order.
var UnitStatuses = []UnitStatus{
	UnitAvailable,
	UnitReserved,
	UnitAssigned,
	UnitActivated,
	UnitShopifyFailed,
}

// Valid reports whether s is a known status.
func (s UnitStatus) Valid() bool {
	switch s {
	case UnitAvailable, UnitReserved, UnitAssigned, UnitActivated, UnitShopifyFailed:
		return true
	}
	return false
}

// transitions is the complete unit state machine.
var transitions = map[UnitStatus][]UnitStatus{
	UnitAvailable:     {UnitReserved},
	UnitReserved:      {UnitAvailable, UnitAssigned},
	UnitAssigned:      {UnitActivated, UnitShopifyFailed},
	UnitShopifyFailed: {UnitActivated},
	UnitActivated:     nil,
}

// CanTransition reports whether a unit may move from one status to another.
func CanTransition(from, to UnitStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Activatable reports whether a PIN may be checked against a unit in this status.
func (s UnitStatus) Activatable() bool {
	return s == UnitAssigned || s == UnitShopifyFailed
}

// Unit is one physical-art item tracked by the registry.
//
// BuyerEmail comes from the commerce order and is written once at
// confirmation. OwnerEmail is written once at activation. Neither overwrites
// the other; a unit bought as a gift keeps both.
type Unit struct {
	ID     string     `json:"id"`
	Status UnitStatus `json:"status"`

	RarityTier  string   `json:"rarity_tier,omitempty"`
	RarityNonce string   `json:"-"`
	RarityProof []string `json:"-"`
	RarityRoot  string   `json:"rarity_root,omitempty"`

	OrderRef   string `json:"order_ref,omitempty"`
	OrderName  string `json:"order_name,omitempty"`
	BuyerEmail string `json:"buyer_email,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`

	PIN            string     `json:"-"`
	PINLast4       string     `json:"pin_last4,omitempty"`
	PINAttempts    int        `json:"pin_attempts"`
	PINLockedUntil *time.Time `json:"pin_locked_until,omitempty"`

	ActivatedAt *time.Time `json:"activated_at,omitempty"`
	ProofToken  string     `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Committed reports whether a rarity assignment has been stored for the unit.
func (u *Unit) Committed() bool {
	return u.RarityTier != "" && u.RarityRoot != ""
}

// LockedAt reports whether PIN verification is suspended at the given time.
func (u *Unit) LockedAt(now time.Time) bool {
	return u.PINLockedUntil != nil && u.PINLockedUntil.After(now)
}
