package reserves

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/shopspring/decimal"
)

// BalanceLeaf is one user's balance entry in the commitment tree.
type BalanceLeaf struct {
	UserID  string          `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
}

// leafHash commits to both identity and amount. Balance.String() is the
// canonical decimal form, so equal balances always hash identically.
func leafHash(leaf BalanceLeaf) [32]byte {
	return sha256.Sum256([]byte(leaf.UserID + ":" + leaf.Balance.String()))
}

// MerkleRoot builds the commitment over the leaves and returns the hex root.
// Leaves are sorted by user id first so the root is independent of input
// order; an odd node at any level is promoted unchanged.
func MerkleRoot(leaves []BalanceLeaf) string {
	if len(leaves) == 0 {
		return ""
	}
	sorted := make([]BalanceLeaf, len(leaves))
	copy(sorted, leaves)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UserID < sorted[j].UserID })

	level := make([][32]byte, len(sorted))
	for i, leaf := range sorted {
		level[i] = leafHash(leaf)
	}

	for len(level) > 1 {
		next := make([][32]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			joined := append(level[i][:], level[i+1][:]...)
			next = append(next, sha256.Sum256(joined))
		}
		level = next
	}
	return hex.EncodeToString(level[0][:])
}
