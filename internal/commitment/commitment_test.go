package commitment

import (
	"encoding/hex"
	"fmt"
	"math/bits"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func unitIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("EV-%04d", i+1)
	}
	return ids
}

func flipHex(s string) string {
	b, _ := hex.DecodeString(s)
	b[0] ^= 0xff
	return hex.EncodeToString(b)
}

func TestBuildExample(t *testing.T) {
	ids := unitIDs(10)
	tiers := []Tier{{Name: "A", Count: 3}, {Name: "B", Count: 7}}

	c1, err := Build("s1", ids, tiers)
	require.NoError(t, err)
	c2, err := Build("s1", ids, tiers)
	require.NoError(t, err)
	require.Equal(t, c1, c2, "same seed must give identical commitments")

	perm := Shuffle("s1", ids)
	require.Equal(t, perm[0], c1.Assignments[0].ID)
	require.Equal(t, "A", c1.Assignments[0].Tier)

	// ceil(log2 10) = 4 siblings.
	require.Len(t, c1.Assignments[0].Proof, 4)
	a := c1.Assignments[0]
	require.True(t, Verify(a.ID, a.Tier, a.Nonce, a.Proof, c1.Root))

	counts := map[string]int{}
	for _, a := range c1.Assignments {
		counts[a.Tier]++
	}
	require.Equal(t, map[string]int{"A": 3, "B": 7}, counts)
}

func TestBuildIgnoresInputOrder(t *testing.T) {
	ids := unitIDs(12)
	reversed := slices.Clone(ids)
	slices.Reverse(reversed)
	tiers := []Tier{{Name: "gold", Count: 2}, {Name: "silver", Count: 10}}

	c1, err := Build("seed", ids, tiers)
	require.NoError(t, err)
	c2, err := Build("seed", reversed, tiers)
	require.NoError(t, err)
	require.Equal(t, c1.Root, c2.Root)
}

func TestBuildRejectsBadInput(t *testing.T) {
	tiers := []Tier{{Name: "A", Count: 2}}

	_, err := Build("", unitIDs(2), tiers)
	require.Error(t, err)

	_, err = Build("s", nil, tiers)
	require.Error(t, err)

	_, err = Build("s", []string{"x", "x"}, tiers)
	require.ErrorContains(t, err, "duplicate identifier")

	_, err = Build("s", unitIDs(3), tiers)
	require.ErrorContains(t, err, "sum to 2")

	_, err = Build("s", []string{"x\x00A", "x"}, tiers)
	require.ErrorContains(t, err, "control character")
}

func TestSingleLeafTree(t *testing.T) {
	c, err := Build("solo", []string{"EV-1"}, []Tier{{Name: "unique", Count: 1}})
	require.NoError(t, err)
	a := c.Assignments[0]
	require.Empty(t, a.Proof)
	require.Equal(t, hex.EncodeToString(Leaf(a.ID, a.Tier, a.Nonce)), c.Root)
	require.True(t, Verify(a.ID, a.Tier, a.Nonce, a.Proof, c.Root))
}

func TestProofOutOfRange(t *testing.T) {
	tree, err := NewTree([][]byte{Leaf("a", "t", "n")})
	require.NoError(t, err)
	_, err = tree.Proof(1)
	require.Error(t, err)
	_, err = NewTree(nil)
	require.Error(t, err)
}

func TestHashPairIsOrderIndependent(t *testing.T) {
	a := Leaf("a", "t", "n")
	b := Leaf("b", "t", "n")
	require.Equal(t, HashPair(a, b), HashPair(b, a))
}

func TestVerifyRejectsMalformedHex(t *testing.T) {
	require.False(t, Verify("a", "t", "n", nil, "zz"))
	require.False(t, Verify("a", "t", "n", []string{"not-hex"}, hex.EncodeToString(Leaf("a", "t", "n"))))
	require.False(t, Verify("a", "t", "n", nil, ""))
}

func TestNonceHidesSeed(t *testing.T) {
	n1 := Nonce("seed-1", "EV-1", "A")
	n2 := Nonce("seed-2", "EV-1", "A")
	require.NotEqual(t, n1, n2)
	require.NotContains(t, n1, "seed")
	require.Len(t, n1, 64)
}

func TestShuffleIsPermutation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 64).Draw(rt, "n")
		seed := rapid.StringMatching(`[a-z0-9]{1,16}`).Draw(rt, "seed")
		ids := unitIDs(n)

		out := Shuffle(seed, ids)
		if len(out) != n {
			rt.Fatalf("len = %d, want %d", len(out), n)
		}
		sorted := slices.Clone(out)
		slices.Sort(sorted)
		if !slices.Equal(sorted, ids) {
			rt.Fatalf("shuffle is not a permutation")
		}
		if !slices.Equal(out, Shuffle(seed, ids)) {
			rt.Fatalf("shuffle is not deterministic")
		}
	})
}

func TestCommitmentProperties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(2, 40).Draw(rt, "n")
		seed := rapid.StringMatching(`[A-Za-z0-9]{1,24}`).Draw(rt, "seed")
		split := rapid.IntRange(1, n-1).Draw(rt, "split")
		tiers := []Tier{{Name: "rare", Count: split}, {Name: "common", Count: n - split}}
		ids := unitIDs(n)

		c, err := Build(seed, ids, tiers)
		if err != nil {
			rt.Fatalf("build: %v", err)
		}
		again, err := Build(seed, ids, tiers)
		if err != nil {
			rt.Fatalf("rebuild: %v", err)
		}
		if c.Root != again.Root {
			rt.Fatalf("root not stable")
		}

		depth := bits.Len(uint(n - 1))
		for _, a := range c.Assignments {
			if len(a.Proof) != depth {
				rt.Fatalf("proof len = %d, want %d", len(a.Proof), depth)
			}
			if !Verify(a.ID, a.Tier, a.Nonce, a.Proof, c.Root) {
				rt.Fatalf("valid claim for %s rejected", a.ID)
			}

			otherTier := "rare"
			if a.Tier == "rare" {
				otherTier = "common"
			}
			if Verify(a.ID, otherTier, a.Nonce, a.Proof, c.Root) {
				rt.Fatalf("altered tier accepted for %s", a.ID)
			}
			if Verify(a.ID, a.Tier, flipHex(a.Nonce), a.Proof, c.Root) {
				rt.Fatalf("altered nonce accepted for %s", a.ID)
			}

			k := rapid.IntRange(0, len(a.Proof)-1).Draw(rt, "sibling")
			tampered := slices.Clone(a.Proof)
			tampered[k] = flipHex(tampered[k])
			if Verify(a.ID, a.Tier, a.Nonce, tampered, c.Root) {
				rt.Fatalf("altered sibling %d accepted for %s", k, a.ID)
			}
		}
	})
}

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers("A:3, B:7")
	require.NoError(t, err)
	require.Equal(t, []Tier{{Name: "A", Count: 3}, {Name: "B", Count: 7}}, tiers)

	_, err = ParseTiers("A=3")
	require.Error(t, err)
	_, err = ParseTiers("A:x")
	require.Error(t, err)
	_, err = ParseTiers(" , ")
	require.Error(t, err)
}

func TestLoadTiers(t *testing.T) {
	tiers, err := LoadTiers(strings.NewReader("- name: legendary\n  count: 1\n- name: common\n  count: 9\n"))
	require.NoError(t, err)
	require.Equal(t, []Tier{{Name: "legendary", Count: 1}, {Name: "common", Count: 9}}, tiers)
	require.NoError(t, ValidateTiers(tiers, 10))

	_, err = LoadTiers(strings.NewReader(""))
	require.Error(t, err)

	_, err = LoadTiers(strings.NewReader("- name: a\n  weight: 2\n"))
	require.Error(t, err)
}

func TestValidateTiers(t *testing.T) {
	require.Error(t, ValidateTiers(nil, 0))
	require.Error(t, ValidateTiers([]Tier{{Name: "", Count: 1}}, 1))
	require.Error(t, ValidateTiers([]Tier{{Name: "a", Count: 1}, {Name: "a", Count: 1}}, 2))
	require.Error(t, ValidateTiers([]Tier{{Name: "a", Count: 0}}, 0))
	require.Error(t, ValidateTiers([]Tier{{Name: "a\x00b", Count: 1}}, 1))
	require.Error(t, ValidateTiers([]Tier{{Name: "gold\n", Count: 1}}, 1))
	require.NoError(t, ValidateTiers([]Tier{{Name: "a", Count: 2}}, 2))
}
