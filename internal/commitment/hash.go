package commitment

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Domain tags keep shuffle draws, nonces, leaves and nodes in separate hash spaces.
const (
	domainShuffle = "evidenca/shuffle/v1"
	domainNonce   = "evidenca/nonce/v1"
	domainLeaf    = "evidenca/leaf/v1"
	domainNode    = "evidenca/node/v1"
	domainSeed    = "evidenca/seed/v1"
)

// hasControl reports whether s contains a control character. Hashed fields
// are 0x00-separated, so none may contain one.
func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

func digest(domain string, fields ...[]byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, f := range fields {
		h.Write([]byte{0x00})
		h.Write(f)
	}
	return h.Sum(nil)
}

// Nonce derives the per-unit nonce. It reveals nothing about the seed on its
// own and is reproducible by anyone once the seed is published.
func Nonce(seed, id, tier string) string {
	return hex.EncodeToString(digest(domainNonce, []byte(seed), []byte(id), []byte(tier)))
}

// Leaf computes the Merkle leaf for one unit's claim.
func Leaf(id, tier, nonce string) []byte {
	return digest(domainLeaf, []byte(id), []byte(tier), []byte(nonce))
}

// HashPair combines two nodes. Children are ordered before hashing so a proof
// does not need to carry left/right positions.
func HashPair(a, b []byte) []byte {
	if bytes.Compare(a, b) > 0 {
		a, b = b, a
	}
	return digest(domainNode, a, b)
}

// SeedHash is the public fingerprint of a seed, published before the seed itself.
func SeedHash(seed string) string {
	return hex.EncodeToString(digest(domainSeed, []byte(seed)))
}
