package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type ReconciliationStatus string

const (
	ReconBalanced       ReconciliationStatus = "balanced"
	ReconOverAllocated  ReconciliationStatus = "over_allocated"
	ReconUnderAllocated ReconciliationStatus = "under_allocated"
)

// ReconciliationRecord is one audit-trail entry comparing ledger totals to
// venue-reported truth for a (venue, asset) pair. Append-only, never mutated.
//
// Difference = ActualBalance - AllocatedAmount. A negative difference means
// the ledger claims more than the venue holds (over-allocated, critical).
type ReconciliationRecord struct {
	ID              string               `json:"id"`
	VenueID         string               `json:"venue_id"`
	Asset           string               `json:"asset"`
	ActualBalance   decimal.Decimal      `json:"actual_balance"`
	AllocatedAmount decimal.Decimal      `json:"allocated_amount"`
	Difference      decimal.Decimal      `json:"difference"`
	Status          ReconciliationStatus `json:"status"`
	CreatedAt       time.Time            `json:"created_at"`
}

// ClassifyReconciliation applies the tolerance epsilon to the difference
// between venue truth and ledger totals. Deterministic by construction.
func ClassifyReconciliation(actual, allocated, epsilon decimal.Decimal) (ReconciliationStatus, decimal.Decimal) {
	diff := actual.Sub(allocated)
	switch {
	case diff.Abs().LessThanOrEqual(epsilon):
		return ReconBalanced, diff
	case diff.IsNegative():
		return ReconOverAllocated, diff
	default:
		return ReconUnderAllocated, diff
	}
}

// ProofOfReserves is a signed, Merkle-committed snapshot of user balances for
// one (venue, asset) pair. Immutable once generated.
type ProofOfReserves struct {
	ID              string          `json:"id"`
	VenueID         string          `json:"venue_id"`
	Asset           string          `json:"asset"`
	MerkleRoot      string          `json:"merkle_root"`
	Signature       string          `json:"signature"`
	ExchangeBalance decimal.Decimal `json:"exchange_balance"`
	InternalTotal   decimal.Decimal `json:"internal_total"`
	LeafCount       int             `json:"leaf_count"`
	GeneratedAt     time.Time       `json:"generated_at"`
}
