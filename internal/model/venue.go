package model

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type VenueStatus string

const (
	VenueActive   VenueStatus = "active"
	VenueDegraded VenueStatus = "degraded"
	VenueInactive VenueStatus = "inactive"
)

// VenueCapability names an operation a venue supports for a symbol set.
type VenueCapability string

const (
	CapabilitySpotOrders   VenueCapability = "spot_orders"
	CapabilityWithdrawals  VenueCapability = "withdrawals"
	CapabilityMarginOrders VenueCapability = "margin_orders"
)

// VenueLimits carries the venue-imposed ceilings the router and pipeline
// respect when sizing orders.
type VenueLimits struct {
	MaxOrdersPerSecond int             `json:"max_orders_per_second"`
	MaxOrderAmount     decimal.Decimal `json:"max_order_amount"`
	MaxWithdrawalDaily decimal.Decimal `json:"max_withdrawal_daily"`
}

// VenueConfig is the platform's view of one external trading venue. Status is
// mutated only by the health monitor and admin config reload.
type VenueConfig struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Status          VenueStatus       `json:"status"`
	Priority        int               `json:"priority"` // lower wins ties
	FeeRate         decimal.Decimal   `json:"fee_rate"`
	Limits          VenueLimits       `json:"limits"`
	Capabilities    []VenueCapability `json:"capabilities"`
	Symbols         []string          `json:"symbols"`
	LastHealthCheck time.Time         `json:"last_health_check"`
	LastHealthOK    time.Time         `json:"last_health_ok"`
}

func (v *VenueConfig) HasCapability(c VenueCapability) bool {
	for _, have := range v.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

func (v *VenueConfig) SupportsSymbol(symbol string) bool {
	for _, s := range v.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// Assets returns the distinct assets across the venue's symbols, sorted so
// callers iterate deterministically.
func (v *VenueConfig) Assets() []string {
	set := make(map[string]bool)
	for _, symbol := range v.Symbols {
		base, quote := SplitSymbol(symbol)
		if base != "" {
			set[base] = true
		}
		if quote != "" {
			set[quote] = true
		}
	}
	assets := make([]string, 0, len(set))
	for asset := range set {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// SplitSymbol parses "BASE-QUOTE" into its assets. Falls back to treating
// the whole symbol as base with an empty quote when no separator exists.
func SplitSymbol(symbol string) (base, quote string) {
	idx := strings.IndexByte(symbol, '-')
	if idx < 0 {
		return symbol, ""
	}
	return symbol[:idx], symbol[idx+1:]
}

// RoutingDecision is ephemeral: computed per order, never persisted.
type RoutingDecision struct {
	VenueID   string    `json:"venue_id"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	DecidedAt time.Time `json:"decided_at"`
}
