// Package commitment derives a rarity tier for every unit from a secret seed
// and binds the whole assignment under a single Merkle root.
//
// Everything here is a pure function of its inputs. Given the seed, the
// identifier list and the tier table, any implementation reproduces the same
// permutation, nonces, leaves, root and proofs byte for byte:
//
//   - identifiers are sorted ascending, then shuffled with Fisher-Yates from
//     the last index down; step i picks j = H(shuffle, seed, i) mod (i+1)
//   - tiers are dealt in table order over the shuffled list
//   - nonce = hex(H(nonce, seed, id, tier)), leaf = H(leaf, id, tier, nonce)
//   - parents hash their two children in ascending byte order, odd levels pair
//     the last node with itself
//
// H(domain, f1, ..., fn) is SHA-256 over the domain tag followed by each field
// prefixed with a 0x00 separator. Hashes travel as lowercase hex.
package commitment
