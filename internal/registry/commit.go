package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/erazemk/evidenca/internal/auth"
	"github.com/erazemk/evidenca/internal/commitment"
	"github.com/erazemk/evidenca/internal/model"
	"github.com/erazemk/evidenca/internal/store"
)

// CommitmentInfo is the public record of a rarity commitment.
type CommitmentInfo struct {
	Root     string            `json:"root"`
	SeedHash string            `json:"seed_hash"`
	Seed     string            `json:"seed,omitempty"`
	Count    int               `json:"count"`
	Tiers    []commitment.Tier `json:"tiers"`
}

// Commit assigns every unit a rarity tier under seed and stores the Merkle
// root. It can run once. Only the seed's hash is stored until RevealSeed.
func (r *Registry) Commit(ctx context.Context, seed string, tiers []commitment.Tier) (info CommitmentInfo, err error) {
	ctx, span := r.start(ctx, "registry.commit")
	defer func() { finish(span, err) }()

	now := r.clock()
	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		if _, ok, err := r.store.GetSetting(ctx, store.SettingCommitmentRoot); err != nil {
			return err
		} else if ok {
			return ErrAlreadyCommitted
		}

		ids, err := r.store.ListUnitIDs(ctx)
		if err != nil {
			return err
		}
		c, err := commitment.Build(seed, ids, tiers)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidTiers, err)
		}

		for _, a := range c.Assignments {
			u, err := r.store.GetUnitForUpdate(ctx, a.ID)
			if err != nil {
				return fmt.Errorf("loading unit %s: %w", a.ID, err)
			}
			u.RarityTier = a.Tier
			u.RarityNonce = a.Nonce
			u.RarityProof = a.Proof
			u.RarityRoot = c.Root
			u.UpdatedAt = now
			if err := r.store.UpdateUnit(ctx, u); err != nil {
				return err
			}
			if err := r.appendEvent(ctx, u.ID, model.EventRarityCommitted, model.ActorAdmin, map[string]any{
				"root": c.Root,
			}, now); err != nil {
				return err
			}
		}

		tiersJSON, err := json.Marshal(c.Tiers)
		if err != nil {
			return fmt.Errorf("encoding tiers: %w", err)
		}
		for key, value := range map[string]string{
			store.SettingCommitmentRoot:     c.Root,
			store.SettingCommitmentSeedHash: c.SeedHash,
			store.SettingCommitmentTiers:    string(tiersJSON),
			store.SettingCommitmentCount:    strconv.Itoa(len(c.Assignments)),
		} {
			if err := r.store.PutSetting(ctx, key, value); err != nil {
				return err
			}
		}

		info = CommitmentInfo{
			Root:     c.Root,
			SeedHash: c.SeedHash,
			Count:    len(c.Assignments),
			Tiers:    c.Tiers,
		}
		return nil
	})
	if err != nil {
		if !expected(err) {
			r.logger.Error("commit failed", "error", err)
		}
		return CommitmentInfo{}, err
	}

	span.SetAttributes(attribute.String("evidenca.root", info.Root), attribute.Int("evidenca.count", info.Count))
	r.logger.Info("rarity committed", "root", info.Root, "count", info.Count)
	return info, nil
}

// RevealSeed publishes the seed once it matches the committed hash.
func (r *Registry) RevealSeed(ctx context.Context, seed string) (err error) {
	ctx, span := r.start(ctx, "registry.reveal_seed")
	defer func() { finish(span, err) }()

	err = r.store.WithTx(ctx, func(ctx context.Context) error {
		hash, ok, err := r.store.GetSetting(ctx, store.SettingCommitmentSeedHash)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotCommitted
		}
		if !auth.SecretEqual(commitment.SeedHash(seed), hash) {
			return ErrSeedMismatch
		}
		return r.store.PutSetting(ctx, store.SettingCommitmentSeed, seed)
	})
	if err == nil {
		r.logger.Info("commitment seed revealed")
	}
	return err
}

// Commitment returns the published commitment.
func (r *Registry) Commitment(ctx context.Context) (CommitmentInfo, error) {
	var info CommitmentInfo
	settings := map[string]*string{
		store.SettingCommitmentRoot:     &info.Root,
		store.SettingCommitmentSeedHash: &info.SeedHash,
		store.SettingCommitmentSeed:     &info.Seed,
	}
	for key, dst := range settings {
		v, _, err := r.store.GetSetting(ctx, key)
		if err != nil {
			return CommitmentInfo{}, err
		}
		*dst = v
	}
	if info.Root == "" {
		return CommitmentInfo{}, ErrNotCommitted
	}

	count, _, err := r.store.GetSetting(ctx, store.SettingCommitmentCount)
	if err != nil {
		return CommitmentInfo{}, err
	}
	if info.Count, err = strconv.Atoi(count); err != nil {
		return CommitmentInfo{}, fmt.Errorf("decoding commitment count: %w", err)
	}

	tiers, _, err := r.store.GetSetting(ctx, store.SettingCommitmentTiers)
	if err != nil {
		return CommitmentInfo{}, err
	}
	if err := json.Unmarshal([]byte(tiers), &info.Tiers); err != nil {
		return CommitmentInfo{}, fmt.Errorf("decoding commitment tiers: %w", err)
	}
	return info, nil
}

// ProofResult is everything a third party needs to check one unit's tier.
type ProofResult struct {
	Identifier string   `json:"identifier"`
	Tier       string   `json:"tier"`
	Root       string   `json:"root"`
	Proof      []string `json:"proof"`
	Nonce      string   `json:"nonce"`
	Valid      bool     `json:"valid"`
}

// Proof returns a unit's rarity proof to the holder of its proof token. Valid
// reports whether the proof verifies and its root is the published one.
func (r *Registry) Proof(ctx context.Context, unitID, token string) (result ProofResult, err error) {
	ctx, span := r.start(ctx, "registry.proof", attribute.String("evidenca.unit", unitID))
	defer func() { finish(span, err) }()

	u, err := r.store.GetUnit(ctx, unitID)
	if errors.Is(err, store.ErrNotFound) {
		return ProofResult{}, ErrUnitNotFound
	}
	if err != nil {
		return ProofResult{}, fmt.Errorf("loading unit %s: %w", unitID, err)
	}
	if token == "" || u.ProofToken == "" || !auth.SecretEqual(u.ProofToken, token) {
		return ProofResult{}, ErrInvalidProofToken
	}
	if !u.Committed() {
		return ProofResult{}, ErrNotCommitted
	}

	published, _, err := r.store.GetSetting(ctx, store.SettingCommitmentRoot)
	if err != nil {
		return ProofResult{}, err
	}

	result = ProofResult{
		Identifier: u.ID,
		Tier:       u.RarityTier,
		Root:       u.RarityRoot,
		Proof:      u.RarityProof,
		Nonce:      u.RarityNonce,
	}
	if result.Proof == nil {
		result.Proof = []string{}
	}
	result.Valid = u.RarityRoot == published &&
		commitment.Verify(u.ID, u.RarityTier, u.RarityNonce, u.RarityProof, u.RarityRoot)
	if !result.Valid {
		r.logger.Error("stored rarity proof does not verify", "unit", u.ID, "root", u.RarityRoot)
	}
	return result, nil
}
