package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

const unitColumns = `id, status, rarity_tier, rarity_nonce, rarity_proof::text, rarity_root,
	order_ref, order_name, buyer_email, owner_email, pin, pin_last4, pin_attempts,
	pin_locked_until, activated_at, proof_token, created_at, updated_at`

func scanUnit(row pgx.Row) (*model.Unit, error) {
	var (
		u                                 model.Unit
		status                            string
		tier, nonce, proof, root          *string
		orderRef, orderName, buyer, owner *string
		pin, last4, proofToken            *string
	)
	err := row.Scan(&u.ID, &status, &tier, &nonce, &proof, &root,
		&orderRef, &orderName, &buyer, &owner, &pin, &last4, &u.PINAttempts,
		&u.PINLockedUntil, &u.ActivatedAt, &proofToken, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}

	u.Status = model.UnitStatus(status)
	u.RarityTier = deref(tier)
	u.RarityNonce = deref(nonce)
	u.RarityRoot = deref(root)
	if p := deref(proof); p != "" {
		if err := json.Unmarshal([]byte(p), &u.RarityProof); err != nil {
			return nil, fmt.Errorf("decoding rarity proof of unit %s: %w", u.ID, err)
		}
	}
	u.OrderRef = deref(orderRef)
	u.OrderName = deref(orderName)
	u.BuyerEmail = deref(buyer)
	u.OwnerEmail = deref(owner)
	u.PIN = deref(pin)
	u.PINLast4 = deref(last4)
	u.ProofToken = deref(proofToken)
	return &u, nil
}

func (s *Store) getUnit(ctx context.Context, query string, args ...any) (*model.Unit, error) {
	u, err := scanUnit(s.queryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// InsertUnits adds available units, skipping ids that already exist.
func (s *Store) InsertUnits(ctx context.Context, ids []string, now time.Time) ([]string, error) {
	var inserted []string
	err := s.WithTx(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			tag, err := s.exec(ctx, `
INSERT INTO units (id, status, created_at, updated_at)
VALUES ($1, $2, $3, $3)
ON CONFLICT (id) DO NOTHING`, id, string(model.UnitAvailable), now)
			if err != nil {
				return fmt.Errorf("inserting unit %s: %w", id, err)
			}
			if tag.RowsAffected() == 1 {
				inserted = append(inserted, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// LockRandomAvailableUnit locks a random available unit that no concurrent
// transaction holds. It must run inside WithTx.
func (s *Store) LockRandomAvailableUnit(ctx context.Context) (*model.Unit, error) {
	u, err := s.getUnit(ctx, `
SELECT `+unitColumns+`
FROM units
WHERE status = $1
ORDER BY random()
LIMIT 1
FOR UPDATE SKIP LOCKED`, string(model.UnitAvailable))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("locking available unit: %w", err)
	}
	return u, err
}

// GetUnit returns a unit by id.
func (s *Store) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	u, err := s.getUnit(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1`, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("getting unit: %w", err)
	}
	return u, err
}

// GetUnitForUpdate returns a unit and holds its row lock until the
// transaction ends.
func (s *Store) GetUnitForUpdate(ctx context.Context, id string) (*model.Unit, error) {
	u, err := s.getUnit(ctx, `SELECT `+unitColumns+` FROM units WHERE id = $1 FOR UPDATE`, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("locking unit: %w", err)
	}
	return u, err
}

// UpdateUnit writes every mutable column of u.
func (s *Store) UpdateUnit(ctx context.Context, u *model.Unit) error {
	var proof any
	if len(u.RarityProof) > 0 {
		b, err := json.Marshal(u.RarityProof)
		if err != nil {
			return fmt.Errorf("encoding rarity proof: %w", err)
		}
		proof = string(b)
	}

	tag, err := s.exec(ctx, `
UPDATE units SET
	status = $2, rarity_tier = $3, rarity_nonce = $4, rarity_proof = $5::jsonb, rarity_root = $6,
	order_ref = $7, order_name = $8, buyer_email = $9, owner_email = $10, pin = $11, pin_last4 = $12,
	pin_attempts = $13, pin_locked_until = $14, activated_at = $15, proof_token = $16, updated_at = $17
WHERE id = $1`,
		u.ID, string(u.Status), nullString(u.RarityTier), nullString(u.RarityNonce), proof, nullString(u.RarityRoot),
		nullString(u.OrderRef), nullString(u.OrderName), nullString(u.BuyerEmail), nullString(u.OwnerEmail),
		nullString(u.PIN), nullString(u.PINLast4), u.PINAttempts, u.PINLockedUntil, u.ActivatedAt,
		nullString(u.ProofToken), u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("updating unit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TransitionUnit moves a unit from one status to another only if it is still
// in from.
func (s *Store) TransitionUnit(ctx context.Context, id string, from, to model.UnitStatus, now time.Time) (bool, error) {
	tag, err := s.exec(ctx, `
UPDATE units SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2`, id, string(from), string(to), now)
	if err != nil {
		return false, fmt.Errorf("transitioning unit: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListUnitIDs returns every unit id in ascending order.
func (s *Store) ListUnitIDs(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT id FROM units ORDER BY id COLLATE "C"`)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning unit ids: %w", err)
	}
	return ids, nil
}

// CountUnitsByStatus returns the number of units in each status.
func (s *Store) CountUnitsByStatus(ctx context.Context) (map[model.UnitStatus]int, error) {
	rows, err := s.query(ctx, `SELECT status, COUNT(*) FROM units GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting units: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.UnitStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning unit count: %w", err)
		}
		counts[model.UnitStatus(status)] = n
	}
	return counts, rows.Err()
}
