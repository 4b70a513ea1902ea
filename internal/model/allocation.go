package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PlatformFundAllocation is the ledger row for one (venue, asset) pair.
//
// TotalPlatformBalance is the last venue-reported truth, refreshed only by
// the reconciliation engine. Allocate/deallocate operations are pure ledger
// arithmetic over AvailableForAllocation and the nested allocation maps, so
// drift against the venue is surfaced by reconciliation instead of silently
// absorbed.
//
// Invariant after every successful mutation:
//
//	AvailableForAllocation + sum(BrokerAllocations) == TotalPlatformBalance
type PlatformFundAllocation struct {
	VenueID string `json:"venue_id"`
	Asset   string `json:"asset"`

	TotalPlatformBalance   decimal.Decimal `json:"total_platform_balance"`
	AvailableForAllocation decimal.Decimal `json:"available_for_allocation"`

	// BrokerAllocations sums everything attributed to a broker, including
	// the per-customer amounts nested below.
	BrokerAllocations   map[string]decimal.Decimal            `json:"broker_allocations"`
	CustomerAllocations map[string]map[string]decimal.Decimal `json:"customer_allocations"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewPlatformFundAllocation seeds an empty ledger row with the given
// venue-reported balance fully available.
func NewPlatformFundAllocation(venueID, asset string, total decimal.Decimal) *PlatformFundAllocation {
	return &PlatformFundAllocation{
		VenueID:                venueID,
		Asset:                  asset,
		TotalPlatformBalance:   total,
		AvailableForAllocation: total,
		BrokerAllocations:      make(map[string]decimal.Decimal),
		CustomerAllocations:    make(map[string]map[string]decimal.Decimal),
		UpdatedAt:              time.Now().UTC(),
	}
}

// AllocatedTotal returns the sum of all broker allocations.
func (a *PlatformFundAllocation) AllocatedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, amt := range a.BrokerAllocations {
		total = total.Add(amt)
	}
	return total
}

// InvariantHolds checks the ledger identity for this row.
func (a *PlatformFundAllocation) InvariantHolds() bool {
	return a.AvailableForAllocation.Add(a.AllocatedTotal()).Equal(a.TotalPlatformBalance)
}

// CustomerAllocation returns the nested allocation for a broker's customer,
// zero if absent.
func (a *PlatformFundAllocation) CustomerAllocation(brokerID, customerID string) decimal.Decimal {
	customers, ok := a.CustomerAllocations[brokerID]
	if !ok {
		return decimal.Zero
	}
	return customers[customerID]
}

// Clone returns a deep copy so repositories can hand out rows without
// exposing internal map state.
func (a *PlatformFundAllocation) Clone() *PlatformFundAllocation {
	cp := &PlatformFundAllocation{
		VenueID:                a.VenueID,
		Asset:                  a.Asset,
		TotalPlatformBalance:   a.TotalPlatformBalance,
		AvailableForAllocation: a.AvailableForAllocation,
		BrokerAllocations:      make(map[string]decimal.Decimal, len(a.BrokerAllocations)),
		CustomerAllocations:    make(map[string]map[string]decimal.Decimal, len(a.CustomerAllocations)),
		UpdatedAt:              a.UpdatedAt,
	}
	for broker, amt := range a.BrokerAllocations {
		cp.BrokerAllocations[broker] = amt
	}
	for broker, customers := range a.CustomerAllocations {
		inner := make(map[string]decimal.Decimal, len(customers))
		for customer, amt := range customers {
			inner[customer] = amt
		}
		cp.CustomerAllocations[broker] = inner
	}
	return cp
}
