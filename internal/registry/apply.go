package registry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/commerce"
	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

// TopicOrdersPaid is the only delivery topic that confirms reservations.
const TopicOrdersPaid = "orders/paid"

// Delivery is one signed webhook delivery from the commerce platform.
type Delivery struct {
	ID        string
	Topic     string
	Signature string
	Payload   []byte
}

// ClaimOutcome is the result of confirming one reservation of an order.
type ClaimOutcome string

// Claim outcomes.
const (
	ClaimConfirmed    ClaimOutcome = "confirmed"
	ClaimExpired      ClaimOutcome = "expired"
	ClaimNotFound     ClaimOutcome = "not_found"
	ClaimNotActive    ClaimOutcome = "not_active"
	ClaimNotifyFailed ClaimOutcome = "notify_failed"
	ClaimError        ClaimOutcome = "error"
)

// ClaimResult reports what happened to one referenced reservation.
type ClaimResult struct {
	Token   string       `json:"reservation_token"`
	UnitID  string       `json:"unit_id,omitempty"`
	Outcome ClaimOutcome `json:"outcome"`
	Err     error        `json:"-"`
}

// ApplyResult reports the effect of one delivery.
type ApplyResult struct {
	Duplicate bool          `json:"duplicate"`
	OrderRef  string        `json:"order_ref,omitempty"`
	Claims    []ClaimResult `json:"claims"`
}

// Assigned reports how many claims ended with their unit assigned to the
// order, including those whose notification failed.
func (a ApplyResult) Assigned() int {
	n := 0
	for _, c := range a.Claims {
		if c.Outcome == ClaimConfirmed || c.Outcome == ClaimNotifyFailed {
			n++
		}
	}
	return n
}

// ApplyOrder applies a paid-order delivery. The signature is checked over the
// raw payload before anything else. A delivery id seen before is reported as
// a duplicate and has no effect. Each referenced reservation is confirmed in
// its own transaction; one failing claim does not stop the others.
func (r *Registry) ApplyOrder(ctx context.Context, d Delivery) (result ApplyResult, err error) {
	ctx, span := r.start(ctx, "registry.apply_order", attribute.String("evidenca.delivery_id", d.ID))
	defer func() { finish(span, err) }()

	if !auth.VerifyWebhook(r.secret, d.Payload, d.Signature) {
		r.logger.Warn("rejected order delivery with invalid signature", "delivery_id", d.ID)
		return ApplyResult{}, ErrInvalidSignature
	}
	if d.ID == "" {
		return ApplyResult{}, ErrMissingDeliveryID
	}
	if d.Topic != TopicOrdersPaid {
		r.logger.Warn("rejected order delivery with unsupported topic", "delivery_id", d.ID, "topic", d.Topic)
		return ApplyResult{}, fmt.Errorf("%w: %q", ErrUnsupportedTopic, d.Topic)
	}

	order, err := ParseOrder(d.Payload)
	if err != nil {
		return ApplyResult{}, err
	}
	result.OrderRef = order.Ref
	span.SetAttributes(attribute.String("evidenca.order_ref", order.Ref))

	fresh, err := r.store.RecordWebhookReceipt(ctx, model.WebhookReceipt{
		DeliveryID: d.ID,
		Topic:      d.Topic,
		ReceivedAt: r.clock(),
	})
	if err != nil {
		return ApplyResult{}, fmt.Errorf("recording delivery %s: %w", d.ID, err)
	}
	if !fresh {
		r.logger.Info("duplicate order delivery ignored", "delivery_id", d.ID, "order_ref", order.Ref)
		result.Duplicate = true
		return result, nil
	}

	result.Claims = make([]ClaimResult, 0, len(order.Tokens))
	for _, token := range order.Tokens {
		claim, assigned := r.confirmClaim(ctx, token, order)
		if assigned != nil {
			claim = r.notifyAssigned(ctx, claim, order, assigned)
		}
		result.Claims = append(result.Claims, claim)
	}

	r.logger.Info("order delivery applied",
		"delivery_id", d.ID, "order_ref", order.Ref,
		"claims", len(result.Claims), "assigned", result.Assigned())
	return result, nil
}

// confirmClaim converts one active reservation into an assignment. The unit
// is returned when it was assigned.
func (r *Registry) confirmClaim(ctx context.Context, token string, order Order) (claim ClaimResult, assigned *model.Unit) {
	ctx, span := r.start(ctx, "registry.confirm_claim")
	var err error
	defer func() { finish(span, err) }()

	claim = ClaimResult{Token: token}
	now := r.clock()

	// Outcomes that must persist (expiry) return nil from the transaction and
	// report their error through claimErr.
	var claimErr error
	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		res, err := r.store.GetReservationForUpdate(ctx, token)
		if errors.Is(err, store.ErrNotFound) {
			return ErrReservationNotFound
		}
		if err != nil {
			return err
		}
		claim.UnitID = res.UnitID

		if res.Status != model.ReservationActive {
			return fmt.Errorf("%w: reservation is %s", ErrReservationNotActive, res.Status)
		}
		if res.ExpiredAt(now) {
			if _, err := r.expireLocked(ctx, res, model.ActorShopify, now); err != nil {
				return err
			}
			claimErr = ErrReservationExpired
			return nil
		}

		u, err := r.store.GetUnitForUpdate(ctx, res.UnitID)
		if err != nil {
			return fmt.Errorf("loading unit %s: %w", res.UnitID, err)
		}
		if u.Status != model.UnitReserved {
			return fmt.Errorf("%w: unit %s is %s", ErrReservationNotActive, u.ID, u.Status)
		}

		if err := r.store.UpdateReservationStatus(ctx, token, model.ReservationConfirmed, now); err != nil {
			return err
		}

		pinGenerated := false
		if u.PIN == "" {
			pin, err := auth.GeneratePIN()
			if err != nil {
				return err
			}
			u.PIN = pin
			u.PINLast4 = pin[len(pin)-4:]
			pinGenerated = true
		}
		u.PINAttempts = 0
		u.PINLockedUntil = nil
		u.Status = model.UnitAssigned
		u.OrderRef = order.Ref
		u.OrderName = order.Name
		if u.BuyerEmail == "" {
			u.BuyerEmail = order.Email
		}
		u.UpdatedAt = now
		if err := r.store.UpdateUnit(ctx, u); err != nil {
			return err
		}

		if err := r.appendEvent(ctx, u.ID, model.EventAssigned, model.ActorShopify, map[string]any{
			"reservation": token,
			"order_ref":   order.Ref,
			"order_name":  order.Name,
		}, now); err != nil {
			return err
		}
		if pinGenerated {
			if err := r.appendEvent(ctx, u.ID, model.EventPINGenerated, model.ActorSystem, map[string]any{
				"pin_last4": u.PINLast4,
			}, now); err != nil {
				return err
			}
		}

		assigned = u
		return nil
	})
	if err == nil {
		err = claimErr
	}

	claim.Err = err
	switch {
	case err == nil:
		claim.Outcome = ClaimConfirmed
		r.logger.Info("unit assigned", "unit", claim.UnitID, "reservation", token, "order_ref", order.Ref)
	case errors.Is(err, ErrReservationExpired):
		claim.Outcome = ClaimExpired
		r.logger.Info("claim on expired reservation rejected", "unit", claim.UnitID, "reservation", token)
	case errors.Is(err, ErrReservationNotFound):
		claim.Outcome = ClaimNotFound
		r.logger.Warn("order references unknown reservation", "reservation", token, "order_ref", order.Ref)
	case errors.Is(err, ErrReservationNotActive):
		claim.Outcome = ClaimNotActive
		r.logger.Info("claim on inactive reservation rejected", "unit", claim.UnitID, "reservation", token)
	default:
		claim.Outcome = ClaimError
		assigned = nil
		r.logger.Error("confirming reservation", "reservation", token, "order_ref", order.Ref, "error", err)
	}
	return claim, assigned
}

// notifyAssigned reports an assignment to the commerce platform. On failure
// the unit moves to shopify_failed in a separate transaction; the assignment
// itself stands.
func (r *Registry) notifyAssigned(ctx context.Context, claim ClaimResult, order Order, u *model.Unit) ClaimResult {
	notifyErr := r.notifier.NotifyAssigned(ctx, commerce.Assignment{
		OrderRef:   order.Ref,
		OrderName:  order.Name,
		UnitID:     u.ID,
		PIN:        u.PIN,
		BuyerEmail: u.BuyerEmail,
	})
	if notifyErr == nil {
		return claim
	}

	r.logger.Warn("commerce notification failed", "unit", u.ID, "order_ref", order.Ref, "error", notifyErr)
	claim.Outcome = ClaimNotifyFailed
	claim.Err = notifyErr

	now := r.clock()
	txErr := r.store.WithTx(ctx, func(ctx context.Context) error {
		ok, err := r.store.TransitionUnit(ctx, u.ID, model.UnitAssigned, model.UnitShopifyFailed, now)
		if err != nil || !ok {
			return err
		}
		return r.appendEvent(ctx, u.ID, model.EventShopifyFailed, model.ActorSystem, map[string]any{
			"order_ref": order.Ref,
			"error":     notifyErr.Error(),
		}, now)
	})
	if txErr != nil {
		r.logger.Error("recording commerce failure", "unit", u.ID, "error", txErr)
	}
	return claim
}
