package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/erazemk/evidenca/internal/model"
)

// AppendEvent adds an event to a unit's audit trail.
func (s *Store) AppendEvent(ctx context.Context, e model.Event) error {
	payload := []byte("{}")
	if len(e.Payload) > 0 {
		var err error
		if payload, err = json.Marshal(e.Payload); err != nil {
			return fmt.Errorf("encoding event payload: %w", err)
		}
	}

	_, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO events (id, unit_id, type, actor, payload, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.UnitID, e.Type, e.Actor, string(payload), toMillis(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// ListUnitEvents returns a unit's events in the order they were recorded.
func (s *Store) ListUnitEvents(ctx context.Context, unitID string) ([]model.Event, error) {
	rows, err := s.q(ctx).QueryContext(ctx,
		`SELECT id, unit_id, type, actor, payload, created_at FROM events
		 WHERE unit_id = ? ORDER BY created_at, rowid`,
		unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var (
			e         model.Event
			typ       string
			actor     string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UnitID, &typ, &actor, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.Type = model.EventType(typ)
		e.Actor = actor
		e.CreatedAt = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decoding event payload: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordWebhookReceipt records a delivery id. It reports false when the id
// was already recorded.
func (s *Store) RecordWebhookReceipt(ctx context.Context, r model.WebhookReceipt) (bool, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`INSERT INTO webhook_receipts (delivery_id, topic, received_at) VALUES (?, ?, ?)
		 ON CONFLICT(delivery_id) DO NOTHING`,
		r.DeliveryID, r.Topic, toMillis(r.ReceivedAt),
	)
	if err != nil {
		return false, fmt.Errorf("recording webhook receipt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}
