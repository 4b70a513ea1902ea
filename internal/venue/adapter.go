package venue

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
)

// Balance is the venue-reported holding for one asset.
type Balance struct {
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Total     decimal.Decimal `json:"total"`
}

// PlaceOrderRequest carries everything a venue needs to accept an order.
type PlaceOrderRequest struct {
	Symbol string
	Side   model.OrderSide
	Type   model.OrderType
	Amount decimal.Decimal
	Price  decimal.Decimal // zero for market orders
}

// PlaceOrderResult is the venue acknowledgment.
type PlaceOrderResult struct {
	ExternalOrderID string
	Status          string
}

// OrderStatus is the venue-side view of a previously placed order.
type OrderStatus struct {
	Status       string
	FilledAmount decimal.Decimal
	AveragePrice decimal.Decimal
}

// Health is a venue liveness probe result.
type Health struct {
	OK             bool
	ResponseTimeMs int64
}

// Adapter is the uniform per-venue client contract. Implementations live
// outside this module; retries are the caller's responsibility.
type Adapter interface {
	GetBalance(ctx context.Context, asset string) (Balance, error)
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (PlaceOrderResult, error)
	CancelOrder(ctx context.Context, externalOrderID string) error
	GetOrderStatus(ctx context.Context, externalOrderID string) (OrderStatus, error)
	GetHealth(ctx context.Context) (Health, error)
}
