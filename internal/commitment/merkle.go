package commitment

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// Tree is a binary Merkle tree kept level by level, leaves first.
type Tree struct {
	levels [][][]byte
}

// NewTree builds a tree bottom-up. A level with an odd number of nodes pairs
// its last node with itself.
func NewTree(leaves [][]byte) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, errors.New("merkle tree needs at least one leaf")
	}

	level := make([][]byte, len(leaves))
	copy(level, leaves)
	t := &Tree{levels: [][][]byte{level}}

	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, HashPair(left, right))
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// Root returns the root hash.
func (t *Tree) Root() []byte {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of leaves.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Proof returns the sibling hashes on the path from leaf i to the root.
func (t *Tree) Proof(i int) ([][]byte, error) {
	if i < 0 || i >= t.Len() {
		return nil, fmt.Errorf("leaf index %d out of range [0, %d)", i, t.Len())
	}

	proof := make([][]byte, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling >= len(level) {
			sibling = i
		}
		proof = append(proof, level[sibling])
		i /= 2
	}
	return proof, nil
}

// VerifyLeaf folds the proof into leaf and compares the result with root.
func VerifyLeaf(leaf []byte, proof [][]byte, root []byte) bool {
	h := leaf
	for _, sibling := range proof {
		h = HashPair(h, sibling)
	}
	return bytes.Equal(h, root)
}

// Verify checks a unit's claim using only public data: its fields, the
// sibling path and the published root, all hex encoded.
func Verify(id, tier, nonce string, proof []string, root string) bool {
	rootBytes, err := hex.DecodeString(root)
	if err != nil || len(rootBytes) == 0 {
		return false
	}
	siblings := make([][]byte, len(proof))
	for i, p := range proof {
		b, err := hex.DecodeString(p)
		if err != nil || len(b) == 0 {
			return false
		}
		siblings[i] = b
	}
	return VerifyLeaf(Leaf(id, tier, nonce), siblings, rootBytes)
}

func encodeAll(hashes [][]byte) []string {
	out := make([]string, len(hashes))
	for i, h := range hashes {
		out[i] = hex.EncodeToString(h)
	}
	return out
}
