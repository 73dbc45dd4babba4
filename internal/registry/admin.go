package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

// SeedUnits adds units to the available pool and returns how many were new.
// The pool is frozen once rarity is committed.
func (r *Registry) SeedUnits(ctx context.Context, ids []string) (int, error) {
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.ContainsAny(id, " /?#") || strings.IndexFunc(id, unicode.IsControl) >= 0 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidUnitID, id)
		}
		clean = append(clean, id)
	}

	now := r.clock()
	var inserted []string
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		if _, ok, err := r.store.GetSetting(ctx, store.SettingCommitmentRoot); err != nil {
			return err
		} else if ok {
			return ErrAlreadyCommitted
		}

		var err error
		inserted, err = r.store.InsertUnits(ctx, clean, now)
		if err != nil {
			return err
		}
		for _, id := range inserted {
			if err := r.appendEvent(ctx, id, model.EventUnitCreated, model.ActorAdmin, nil, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("units seeded", "requested", len(clean), "inserted", len(inserted))
	return len(inserted), nil
}

// UnitDetail returns a unit and its audit trail.
func (r *Registry) UnitDetail(ctx context.Context, id string) (*model.Unit, []model.Event, error) {
	u, err := r.store.GetUnit(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrUnitNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	events, err := r.store.ListUnitEvents(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return u, events, nil
}

// Stats summarises the pool.
type Stats struct {
	Total     int                      `json:"total"`
	ByStatus  map[model.UnitStatus]int `json:"by_status"`
	Committed bool                     `json:"committed"`
	Root      string                   `json:"root,omitempty"`
}

// Stats counts units by status.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	counts, err := r.store.CountUnitsByStatus(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{ByStatus: make(map[model.UnitStatus]int, len(model.UnitStatuses))}
	for _, st := range model.UnitStatuses {
		s.ByStatus[st] = counts[st]
		s.Total += counts[st]
	}

	root, ok, err := r.store.GetSetting(ctx, store.SettingCommitmentRoot)
	if err != nil {
		return Stats{}, err
	}
	s.Committed, s.Root = ok, root
	return s, nil
}

// IssueProofToken replaces a unit's proof token and returns the new one.
func (r *Registry) IssueProofToken(ctx context.Context, unitID string) (string, error) {
	now := r.clock()
	token := uuid.NewString()
	err := r.store.WithTx(ctx, func(ctx context.Context) error {
		u, err := r.store.GetUnitForUpdate(ctx, unitID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUnitNotFound
		}
		if err != nil {
			return err
		}
		u.ProofToken = token
		u.UpdatedAt = now
		if err := r.store.UpdateUnit(ctx, u); err != nil {
			return err
		}
		return r.appendEvent(ctx, u.ID, model.EventProofTokenIssued, model.ActorAdmin, nil, now)
	})
	if err != nil {
		return "", err
	}
	r.logger.Info("proof token issued", "unit", unitID)
	return token, nil
}
