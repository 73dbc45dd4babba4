package commitment

import (
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
)

// Assignment is one unit's committed rarity and the data needed to prove it.
type Assignment struct {
	ID    string   `json:"id"`
	Tier  string   `json:"tier"`
	Nonce string   `json:"nonce"`
	Index int      `json:"index"`
	Proof []string `json:"proof"`
}

// Commitment is the full deterministic rarity assignment for a pool.
type Commitment struct {
	Root        string       `json:"root"`
	SeedHash    string       `json:"seed_hash"`
	Tiers       []Tier       `json:"tiers"`
	Assignments []Assignment `json:"assignments"`
}

// Build shuffles ids under seed, deals tiers in table order and commits every
// (id, tier, nonce) triple to a Merkle root. Assignments are returned in leaf
// order, so Assignments[0] is the first identifier of the permutation.
func Build(seed string, ids []string, tiers []Tier) (*Commitment, error) {
	if seed == "" {
		return nil, errors.New("seed is required")
	}
	if len(ids) == 0 {
		return nil, errors.New("no identifiers to commit")
	}
	if err := ValidateTiers(tiers, len(ids)); err != nil {
		return nil, err
	}

	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	for i := 1; i < len(ordered); i++ {
		if ordered[i] == ordered[i-1] {
			return nil, fmt.Errorf("duplicate identifier %q", ordered[i])
		}
	}
	if ordered[0] == "" {
		return nil, errors.New("empty identifier")
	}
	for _, id := range ordered {
		if hasControl(id) {
			return nil, fmt.Errorf("identifier %q contains a control character", id)
		}
	}

	shuffled := Shuffle(seed, ordered)

	assignments := make([]Assignment, 0, len(shuffled))
	leaves := make([][]byte, 0, len(shuffled))
	pos := 0
	for _, tier := range tiers {
		for k := 0; k < tier.Count; k++ {
			id := shuffled[pos]
			nonce := Nonce(seed, id, tier.Name)
			assignments = append(assignments, Assignment{
				ID:    id,
				Tier:  tier.Name,
				Nonce: nonce,
				Index: pos,
			})
			leaves = append(leaves, Leaf(id, tier.Name, nonce))
			pos++
		}
	}

	tree, err := NewTree(leaves)
	if err != nil {
		return nil, err
	}
	for i := range assignments {
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		assignments[i].Proof = encodeAll(proof)
	}

	return &Commitment{
		Root:        hex.EncodeToString(tree.Root()),
		SeedHash:    SeedHash(seed),
		Tiers:       slices.Clone(tiers),
		Assignments: assignments,
	}, nil
}

// Lookup returns the assignment for id.
func (c *Commitment) Lookup(id string) (Assignment, bool) {
	for _, a := range c.Assignments {
		if a.ID == id {
			return a, true
		}
	}
	return Assignment{}, false
}
