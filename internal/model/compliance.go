package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TravelRuleRecord is the originator/beneficiary envelope derived from a
// filled order whose value crosses the reporting threshold.
type TravelRuleRecord struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	TenantID string `json:"tenant_id"`
	BrokerID string `json:"broker_id"`
	UserID   string `json:"user_id"`

	Originator  string          `json:"originator"`
	Beneficiary string          `json:"beneficiary"`
	Asset       string          `json:"asset"`
	Amount      decimal.Decimal `json:"amount"`

	CreatedAt time.Time `json:"created_at"`
}

// CrossBorderReport aggregates a filled order into the jurisdiction-level
// reporting row regulators consume.
type CrossBorderReport struct {
	ID           string          `json:"id"`
	OrderID      string          `json:"order_id"`
	TenantID     string          `json:"tenant_id"`
	VenueID      string          `json:"venue_id"`
	Jurisdiction string          `json:"jurisdiction"`
	Asset        string          `json:"asset"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
}
