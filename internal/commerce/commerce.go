// Package commerce talks to the commerce platform that sells units.
//
// Every call is best effort from the registry's point of view: a failure is
// recorded against the unit but never undoes a committed state change.
package commerce

import (
	"context"
)

// Assignment tells the platform which unit an order received and the PIN the
// buyer needs to activate it.
type Assignment struct {
	OrderRef   string
	OrderName  string
	UnitID     string
	PIN        string
	BuyerEmail string
}

// Invite asks the platform to invite a unit's new owner.
type Invite struct {
	UnitID string
	Email  string
}

// Notifier reports confirmed assignments to the platform.
type Notifier interface {
	NotifyAssigned(ctx context.Context, a Assignment) error
}

// Inviter invites owners after activation.
type Inviter interface {
	InviteOwner(ctx context.Context, inv Invite) error
}

// Nop is used when no platform is configured.
type Nop struct{}

// NotifyAssigned does nothing.
func (Nop) NotifyAssigned(context.Context, Assignment) error { return nil }

// InviteOwner does nothing.
func (Nop) InviteOwner(context.Context, Invite) error { return nil }
