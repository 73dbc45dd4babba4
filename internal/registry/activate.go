package registry

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/commerce"
	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

// ActivationResult describes a freshly activated unit.
type ActivationResult struct {
	UnitID      string    `json:"unit_id"`
	OwnerEmail  string    `json:"owner_email"`
	BuyerEmail  string    `json:"buyer_email,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
	ProofToken  string    `json:"proof_token"`
}

// Activate verifies a unit's PIN and records email as its owner.
//
// A wrong PIN increments the unit's attempt counter; reaching the lockout
// threshold suspends verification for the lockout duration. While suspended
// every attempt, correct or not, fails with a *LockedError. Once a lockout
// has lapsed the counter starts again from zero.
func (r *Registry) Activate(ctx context.Context, unitID, pin, email string) (result ActivationResult, err error) {
	ctx, span := r.start(ctx, "registry.activate", attribute.String("evidenca.unit", unitID))
	defer func() { finish(span, err) }()

	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil {
		return ActivationResult{}, ErrInvalidEmail
	}
	email = addr.Address

	now := r.clock()
	var verifyErr error
	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := r.store.GetUnitForUpdate(ctx, unitID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnitNotFound
		}
		if err != nil {
			return err
		}

		switch {
		case u.Status == model.UnitActivated:
			return ErrUnitAlreadyActivated
		case !u.Status.Activatable():
			return ErrUnitNotAssigned
		case u.PIN == "":
			return ErrPINNotSet
		case u.LockedAt(now):
			return &LockedError{Until: *u.PINLockedUntil}
		}

		if u.PINLockedUntil != nil {
			u.PINLockedUntil = nil
			u.PINAttempts = 0
		}

		if !auth.SecretEqual(u.PIN, pin) {
			u.PINAttempts++
			payload := map[string]any{"attempts": u.PINAttempts}
			if u.PINAttempts >= r.lockoutThreshold {
				until := now.Add(r.lockoutDuration)
				u.PINLockedUntil = &until
				payload["locked_until"] = until.Format(time.RFC3339)
			}
			u.UpdatedAt = now
			if err := r.store.UpdateUnit(ctx, u); err != nil {
				return err
			}
			if err := r.appendEvent(ctx, u.ID, model.EventActivationFailed, email, payload, now); err != nil {
				return err
			}
			verifyErr = ErrInvalidPIN
			return nil
		}

		u.Status = model.UnitActivated
		u.PINAttempts = 0
		u.PINLockedUntil = nil
		u.ActivatedAt = &now
		if u.OwnerEmail == "" {
			u.OwnerEmail = email
		}
		if u.ProofToken == "" {
			u.ProofToken = uuid.NewString()
		}
		u.UpdatedAt = now
		if err := r.store.UpdateUnit(ctx, u); err != nil {
			return err
		}
		if err := r.appendEvent(ctx, u.ID, model.EventActivated, email, map[string]any{
			"owner_email": u.OwnerEmail,
			"buyer_email": u.BuyerEmail,
		}, now); err != nil {
			return err
		}

		result = ActivationResult{
			UnitID:      u.ID,
			OwnerEmail:  u.OwnerEmail,
			BuyerEmail:  u.BuyerEmail,
			ActivatedAt: now,
			ProofToken:  u.ProofToken,
		}
		return nil
	})
	if err == nil {
		err = verifyErr
	}

	var locked *LockedError
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidPIN):
		r.logger.Info("activation rejected: wrong pin", "unit", unitID)
		return ActivationResult{}, err
	case errors.As(err, &locked):
		r.logger.Info("activation rejected: unit locked", "unit", unitID, "until", locked.Until)
		return ActivationResult{}, err
	case expected(err):
		return ActivationResult{}, err
	default:
		r.logger.Error("activation failed", "unit", unitID, "error", err)
		return ActivationResult{}, fmt.Errorf("activating unit %s: %w", unitID, err)
	}

	r.logger.Info("unit activated", "unit", result.UnitID)
	r.invite(ctx, result)
	return result, nil
}

// invite asks the commerce platform to invite the new owner. Failures are
// logged and recorded, never returned.
func (r *Registry) invite(ctx context.Context, result ActivationResult) {
	inviteErr := r.inviter.InviteOwner(ctx, commerce.Invite{UnitID: result.UnitID, Email: result.OwnerEmail})
	if inviteErr == nil {
		return
	}

	r.logger.Warn("owner invite failed", "unit", result.UnitID, "error", inviteErr)
	err := r.appendEvent(ctx, result.UnitID, model.EventInviteFailed, model.ActorSystem, map[string]any{
		"error": inviteErr.Error(),
	}, r.clock())
	if err != nil {
		r.logger.Error("recording invite failure", "unit", result.UnitID, "error", err)
	}
}
