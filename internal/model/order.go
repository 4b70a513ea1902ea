package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending         OrderStatus = "pending"
	OrderAllocated       OrderStatus = "allocated"
	OrderSubmitted       OrderStatus = "submitted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderRejected        OrderStatus = "rejected"
)

// Terminal reports whether no further transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	}
	return false
}

type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// OrderRequest is the inbound client request before any state exists.
type OrderRequest struct {
	TenantID string          `json:"tenant_id"`
	BrokerID string          `json:"broker_id"`
	UserID   string          `json:"user_id"`
	Symbol   string          `json:"symbol"`
	Side     OrderSide       `json:"side"`
	Type     OrderType       `json:"type"`
	Amount   decimal.Decimal `json:"amount"`
	Price    decimal.Decimal `json:"price,omitempty"`
	// Nonce collapses duplicate retries of the same logical request. When
	// empty, the request timestamp truncated to one second is used instead.
	Nonce       string    `json:"nonce,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// FundAllocation records what the pipeline reserved for an order.
type FundAllocation struct {
	AllocatedFrom   string          `json:"allocated_from"` // venue id
	Asset           string          `json:"asset"`
	AllocatedAmount decimal.Decimal `json:"allocated_amount"`
	FeeAllocation   decimal.Decimal `json:"fee_allocation"`
}

// VenueOrder mirrors the venue-side order. It is a weak reference: owned by
// the venue, never authoritative here.
type VenueOrder struct {
	ExternalOrderID string          `json:"external_order_id"`
	Status          string          `json:"status"`
	FilledAmount    decimal.Decimal `json:"filled_amount"`
	AveragePrice    decimal.Decimal `json:"average_price"`
}

// InternalOrder is the platform-side order record driving the pipeline state
// machine: pending -> allocated -> submitted -> filled|cancelled|rejected.
type InternalOrder struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	BrokerID string `json:"broker_id"`
	UserID   string `json:"user_id"`

	VenueID string          `json:"venue_id"`
	Symbol  string          `json:"symbol"`
	Side    OrderSide       `json:"side"`
	Type    OrderType       `json:"type"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price,omitempty"`

	Status       OrderStatus     `json:"status"`
	RejectReason string          `json:"reject_reason,omitempty"`
	FilledAmount decimal.Decimal `json:"filled_amount"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Fee          decimal.Decimal `json:"fee"`

	Allocation FundAllocation `json:"fund_allocation"`
	Venue      *VenueOrder    `json:"venue_order,omitempty"`

	IdempotencyKey string `json:"idempotency_key"`

	// Compliance payloads attached after fill (travel rule, cross-border).
	CompliancePayloads []string `json:"compliance_payloads,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
