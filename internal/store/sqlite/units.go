package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

const unitColumns = `id, status, rarity_tier, rarity_nonce, rarity_proof, rarity_root,
	order_ref, order_name, buyer_email, owner_email, pin, pin_last4, pin_attempts,
	pin_locked_until, activated_at, proof_token, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanUnit(row scanner) (*model.Unit, error) {
	var (
		u                                 model.Unit
		status                            string
		tier, nonce, proof, root          sql.NullString
		orderRef, orderName, buyer, owner sql.NullString
		pin, last4, proofToken            sql.NullString
		lockedUntil, activatedAt          sql.NullInt64
		createdAt, updatedAt              int64
	)
	err := row.Scan(&u.ID, &status, &tier, &nonce, &proof, &root,
		&orderRef, &orderName, &buyer, &owner, &pin, &last4, &u.PINAttempts,
		&lockedUntil, &activatedAt, &proofToken, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	u.Status = model.UnitStatus(status)
	u.RarityTier = tier.String
	u.RarityNonce = nonce.String
	u.RarityRoot = root.String
	if proof.Valid && proof.String != "" {
		if err := json.Unmarshal([]byte(proof.String), &u.RarityProof); err != nil {
			return nil, fmt.Errorf("decoding rarity proof of unit %s: %w", u.ID, err)
		}
	}
	u.OrderRef = orderRef.String
	u.OrderName = orderName.String
	u.BuyerEmail = buyer.String
	u.OwnerEmail = owner.String
	u.PIN = pin.String
	u.PINLast4 = last4.String
	u.PINLockedUntil = timePtr(lockedUntil)
	u.ActivatedAt = timePtr(activatedAt)
	u.ProofToken = proofToken.String
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return &u, nil
}

// InsertUnits adds available units, skipping ids that already exist.
func (s *Store) InsertUnits(ctx context.Context, ids []string, now time.Time) ([]string, error) {
	var inserted []string
	err := s.WithTx(ctx, func(ctx context.Context) error {
		q := s.q(ctx)
		for _, id := range ids {
			res, err := q.ExecContext(ctx,
				`INSERT INTO units (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)
				 ON CONFLICT(id) DO NOTHING`,
				id, model.UnitAvailable, toMillis(now), toMillis(now),
			)
			if err != nil {
				return fmt.Errorf("inserting unit %s: %w", id, err)
			}
			if n, _ := res.RowsAffected(); n == 1 {
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

// LockRandomAvailableUnit picks a random available unit. The enclosing
// immediate transaction already excludes every other writer.
func (s *Store) LockRandomAvailableUnit(ctx context.Context) (*model.Unit, error) {
	row := s.q(ctx).QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE status = ? ORDER BY random() LIMIT 1`,
		model.UnitAvailable,
	)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("selecting available unit: %w", err)
	}
	return u, nil
}

// GetUnit returns a unit by id.
func (s *Store) GetUnit(ctx context.Context, id string) (*model.Unit, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+unitColumns+` FROM units WHERE id = ?`, id)
	u, err := scanUnit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting unit: %w", err)
	}
	return u, nil
}

// GetUnitForUpdate is GetUnit; the transaction lock covers the row.
func (s *Store) GetUnitForUpdate(ctx context.Context, id string) (*model.Unit, error) {
	return s.GetUnit(ctx, id)
}

// UpdateUnit writes every mutable column of u.
func (s *Store) UpdateUnit(ctx context.Context, u *model.Unit) error {
	var proof sql.NullString
	if len(u.RarityProof) > 0 {
		b, err := json.Marshal(u.RarityProof)
		if err != nil {
			return fmt.Errorf("encoding rarity proof: %w", err)
		}
		proof = sql.NullString{String: string(b), Valid: true}
	}

	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE units SET status = ?, rarity_tier = ?, rarity_nonce = ?, rarity_proof = ?, rarity_root = ?,
			order_ref = ?, order_name = ?, buyer_email = ?, owner_email = ?, pin = ?, pin_last4 = ?,
			pin_attempts = ?, pin_locked_until = ?, activated_at = ?, proof_token = ?, updated_at = ?
		 WHERE id = ?`,
		u.Status, nullString(u.RarityTier), nullString(u.RarityNonce), proof, nullString(u.RarityRoot),
		nullString(u.OrderRef), nullString(u.OrderName), nullString(u.BuyerEmail), nullString(u.OwnerEmail),
		nullString(u.PIN), nullString(u.PINLast4), u.PINAttempts,
		nullMillis(u.PINLockedUntil), nullMillis(u.ActivatedAt), nullString(u.ProofToken),
		toMillis(u.UpdatedAt), u.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return fmt.Errorf("updating unit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TransitionUnit moves a unit from one status to another only if it is still
// in from.
func (s *Store) TransitionUnit(ctx context.Context, id string, from, to model.UnitStatus, now time.Time) (bool, error) {
	res, err := s.q(ctx).ExecContext(ctx,
		`UPDATE units SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, toMillis(now), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("transitioning unit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return n == 1, nil
}

// ListUnitIDs returns every unit id in ascending order.
func (s *Store) ListUnitIDs(ctx context.Context) ([]string, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT id FROM units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing units: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning unit id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountUnitsByStatus returns the number of units in each status.
func (s *Store) CountUnitsByStatus(ctx context.Context) (map[model.UnitStatus]int, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `SELECT status, COUNT(*) FROM units GROUP BY status`)
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
