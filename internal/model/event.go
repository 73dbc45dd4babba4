package model

import "time"

// EventType tags an audit event.
type EventType string

// Event types.
const (
	EventReserved           EventType = "reserved"
	EventReservationExpired EventType = "reservation_expired"
	EventAssigned           EventType = "assigned"
	EventPINGenerated       EventType = "pin_generated"
	EventShopifyFailed      EventType = "shopify_failed"
	EventActivated          EventType = "activated"
	EventActivationFailed   EventType = "activation_failed"
	EventInviteFailed       EventType = "invite_failed"
	EventRarityCommitted    EventType = "rarity_committed"
	EventProofTokenIssued   EventType = "proof_token_issued"
	EventUnitCreated        EventType = "unit_created"
)

// Event actors that are not an email address.
const (
	ActorSystem  = "system"
	ActorShopify = "shopify"
	ActorAdmin   = "admin"
)

// Event is an append-only audit record. It is never updated or deleted.
type Event struct {
	ID        string         `json:"id"`
	UnitID    string         `json:"unit_id"`
	Type      EventType      `json:"type"`
	Actor     string         `json:"actor"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// WebhookReceipt records an external delivery id so the delivery is applied once.
type WebhookReceipt struct {
	DeliveryID string    `json:"delivery_id"`
	Topic      string    `json:"topic"`
	ReceivedAt time.Time `json:"received_at"`
}
