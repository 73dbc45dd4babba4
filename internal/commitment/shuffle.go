package commitment

import (
	"math/big"
	"slices"
	"strconv"
)

// Shuffle returns a seeded permutation of ids. The seed is re-hashed for every
// swap so the result depends on nothing but the seed and the input order.
func Shuffle(seed string, ids []string) []string {
	out := slices.Clone(ids)
	for i := len(out) - 1; i > 0; i-- {
		d := digest(domainShuffle, []byte(seed), []byte(strconv.Itoa(i)))
		n := new(big.Int).SetBytes(d)
		j := n.Mod(n, big.NewInt(int64(i+1))).Int64()
		out[i], out[j] = out[j], out[i]
	}
	return out
}
