package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/events"
	"github.com/omnigate/omnigate/internal/ledger"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/pkg/logger"
	"github.com/omnigate/omnigate/internal/pkg/metrics"
	"github.com/omnigate/omnigate/internal/routing"
	"github.com/omnigate/omnigate/internal/venue"
)

// Pipeline turns a client order request into a fund allocation plus a venue
// order and tracks its lifecycle:
//
//	pending -> allocated -> submitted -> filled|cancelled|rejected
type Pipeline struct {
	orders    OrderStore
	allocator *ledger.Allocator
	router    *routing.Engine
	registry  *venue.Registry
	emitter   events.Emitter
	onFill    FillListener
	cfg       config.PipelineConfig
}

// FillListener is notified after an order settles as filled. The compliance
// record builder implements it.
type FillListener interface {
	OnFill(ctx context.Context, order *model.InternalOrder, quoteAsset string)
}

func New(orders OrderStore, allocator *ledger.Allocator, router *routing.Engine, registry *venue.Registry, emitter events.Emitter, cfg config.PipelineConfig) *Pipeline {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBaseMs <= 0 {
		cfg.RetryBaseMs = 200
	}
	return &Pipeline{
		orders:    orders,
		allocator: allocator,
		router:    router,
		registry:  registry,
		emitter:   emitter,
		cfg:       cfg,
	}
}

// SubmitOrder runs the full placement flow. Submitting the same logical
// request again (same idempotency key) returns the existing order instead of
// creating a duplicate; that is the core retry-safety guarantee.
func (p *Pipeline) SubmitOrder(ctx context.Context, req model.OrderRequest) (*model.InternalOrder, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	now := time.Now().UTC()
	order := &model.InternalOrder{
		ID:             uuid.NewString(),
		TenantID:       req.TenantID,
		BrokerID:       req.BrokerID,
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Amount:         req.Amount,
		Price:          req.Price,
		Status:         model.OrderPending,
		IdempotencyKey: IdempotencyKey(req),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	stored, created, err := p.orders.CreateIfAbsent(ctx, order)
	if err != nil {
		return nil, err
	}
	if !created {
		logger.Debug("idempotent replay, returning existing order",
			"order_id", stored.ID, "key", stored.IdempotencyKey)
		return stored, nil
	}
	order = stored

	p.emit(ctx, events.New(events.TypeOrderCreated, order.ID, order))

	// Routing. NoEligibleVenue rejects the order outright.
	decision, err := p.router.DetermineBestVenue(ctx, req.Symbol, req.Side, req.Amount)
	if err != nil {
		p.reject(ctx, order, err)
		return order, err
	}
	order.VenueID = decision.VenueID

	// Fund reservation, amount plus the estimated fee buffer.
	reserve, asset, err := p.reservation(order)
	if err != nil {
		p.reject(ctx, order, err)
		return order, err
	}
	if err := p.allocator.Allocate(ctx, order.VenueID, asset, order.BrokerID, order.UserID, reserve); err != nil {
		p.reject(ctx, order, err)
		return order, err
	}
	order.Allocation = model.FundAllocation{
		AllocatedFrom:   order.VenueID,
		Asset:           asset,
		AllocatedAmount: reserve,
		FeeAllocation:   reserve.Sub(p.notional(order)),
	}
	p.transition(ctx, order, model.OrderAllocated, "")

	// Venue submission with bounded backoff.
	result, err := p.placeWithRetry(ctx, order)
	if err != nil {
		// Final failure: release the reservation before rejecting.
		p.release(ctx, order, order.Allocation.AllocatedAmount)
		p.router.Tracker().Record(order.VenueID, false)
		p.reject(ctx, order, err)
		return order, err
	}

	order.Venue = &model.VenueOrder{
		ExternalOrderID: result.ExternalOrderID,
		Status:          result.Status,
	}
	p.router.Tracker().Record(order.VenueID, true)
	p.transition(ctx, order, model.OrderSubmitted, "")
	return order, nil
}

// HandleVenueUpdate applies a venue order status callback to the internal
// order. Fill callbacks release any allocated-but-unfilled reserve.
func (p *Pipeline) HandleVenueUpdate(ctx context.Context, venueID, externalOrderID string, update venue.OrderStatus) error {
	order, err := p.orders.FindByVenueOrder(ctx, venueID, externalOrderID)
	if err != nil {
		return err
	}
	if order.Status.Terminal() {
		// Late or duplicate callback; terminal orders never move again.
		return nil
	}

	order.Venue.Status = update.Status
	order.FilledAmount = update.FilledAmount
	order.AveragePrice = update.AveragePrice
	order.Venue.FilledAmount = update.FilledAmount
	order.Venue.AveragePrice = update.AveragePrice

	switch update.Status {
	case "partially_filled":
		p.transition(ctx, order, model.OrderPartiallyFilled, "")
		return nil
	case "filled":
		p.settleFill(ctx, order)
		return nil
	case "cancelled":
		p.release(ctx, order, p.remainingReserve(order))
		p.transition(ctx, order, model.OrderCancelled, "")
		return nil
	case "rejected":
		p.release(ctx, order, p.remainingReserve(order))
		p.transition(ctx, order, model.OrderRejected, "rejected by venue")
		return nil
	default:
		// Intermediate states ("open", "accepted") keep the order submitted.
		return p.orders.Update(ctx, order)
	}
}

// CancelOrder is valid only for orders that have not reached a terminal
// state. Any still-reserved funds flow back to availableForAllocation.
func (p *Pipeline) CancelOrder(ctx context.Context, orderID string) (*model.InternalOrder, error) {
	order, err := p.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	switch order.Status {
	case model.OrderPending, model.OrderAllocated, model.OrderSubmitted, model.OrderPartiallyFilled:
	default:
		return nil, apperrors.Newf(apperrors.ErrInvalidOrder,
			"order %s is %s and cannot be cancelled", orderID, order.Status)
	}

	if order.Venue != nil && order.Venue.ExternalOrderID != "" {
		if err := p.registry.CancelOrder(ctx, order.VenueID, order.Venue.ExternalOrderID); err != nil {
			return nil, err
		}
	}

	p.release(ctx, order, p.remainingReserve(order))
	p.transition(ctx, order, model.OrderCancelled, "cancelled by client")
	return order, nil
}

// GetOrder returns the current state of an internal order.
func (p *Pipeline) GetOrder(ctx context.Context, orderID string) (*model.InternalOrder, error) {
	return p.orders.Get(ctx, orderID)
}

func validateRequest(req model.OrderRequest) error {
	if req.TenantID == "" || req.BrokerID == "" || req.UserID == "" {
		return apperrors.NewInvalidOrder("tenant, broker and user ids are required")
	}
	if req.Symbol == "" {
		return apperrors.NewInvalidOrder("symbol is required")
	}
	if _, quote := model.SplitSymbol(req.Symbol); quote == "" {
		return apperrors.Newf(apperrors.ErrInvalidOrder, "unknown symbol %q", req.Symbol)
	}
	if req.Side != model.SideBuy && req.Side != model.SideSell {
		return apperrors.Newf(apperrors.ErrInvalidOrder, "invalid side %q", req.Side)
	}
	if !req.Amount.IsPositive() {
		return apperrors.NewInvalidOrder("amount must be positive")
	}
	if req.Type == model.TypeLimit && !req.Price.IsPositive() {
		return apperrors.NewInvalidOrder("limit orders require a positive price")
	}
	return nil
}

// notional is the order's cost in the allocated asset: quote for buys,
// base for sells.
func (p *Pipeline) notional(order *model.InternalOrder) decimal.Decimal {
	if order.Side == model.SideBuy {
		return order.Amount.Mul(order.Price)
	}
	return order.Amount
}

// reservation computes the amount and asset to reserve: the notional plus
// the configured fee buffer.
func (p *Pipeline) reservation(order *model.InternalOrder) (decimal.Decimal, string, error) {
	base, quote := model.SplitSymbol(order.Symbol)
	asset := base
	if order.Side == model.SideBuy {
		asset = quote
		if !order.Price.IsPositive() {
			// Market buys still need a price to size the reservation.
			return decimal.Zero, "", apperrors.NewInvalidOrder("buy orders require a price to size the reservation")
		}
	}
	notional := p.notional(order)
	buffer := notional.Mul(decimal.NewFromFloat(p.cfg.FeeBufferRate))
	return notional.Add(buffer), asset, nil
}

// remainingReserve is the allocated amount minus what fills have consumed.
func (p *Pipeline) remainingReserve(order *model.InternalOrder) decimal.Decimal {
	if order.Allocation.AllocatedAmount.IsZero() {
		return decimal.Zero
	}
	consumed := decimal.Zero
	if order.FilledAmount.IsPositive() {
		if order.Side == model.SideBuy {
			consumed = order.FilledAmount.Mul(order.AveragePrice)
		} else {
			consumed = order.FilledAmount
		}
	}
	remaining := order.Allocation.AllocatedAmount.Sub(consumed)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// settleFill finalizes a filled order: compute the fee, release the unused
// reserve and emit order.filled.
func (p *Pipeline) settleFill(ctx context.Context, order *model.InternalOrder) {
	feeRate := decimal.Zero
	if cfg, err := p.registry.Config(order.VenueID); err == nil {
		feeRate = cfg.FeeRate
	}
	consumed := order.FilledAmount
	if order.Side == model.SideBuy {
		consumed = order.FilledAmount.Mul(order.AveragePrice)
	}
	order.Fee = consumed.Mul(feeRate)

	spent := consumed.Add(order.Fee)
	leftover := order.Allocation.AllocatedAmount.Sub(spent)
	if leftover.IsPositive() {
		p.release(ctx, order, leftover)
	}

	p.transition(ctx, order, model.OrderFilled, "")
	p.emit(ctx, events.New(events.TypeOrderFilled, order.ID, order))

	if p.onFill != nil {
		_, quote := model.SplitSymbol(order.Symbol)
		p.onFill.OnFill(ctx, order, quote)
	}
}

// SetFillListener attaches the post-fill hook. Call before serving traffic.
func (p *Pipeline) SetFillListener(l FillListener) {
	p.onFill = l
}

// placeWithRetry submits the order to the venue with bounded exponential
// backoff. Venue rejections are final; only network-class failures retry.
func (p *Pipeline) placeWithRetry(ctx context.Context, order *model.InternalOrder) (venue.PlaceOrderResult, error) {
	req := venue.PlaceOrderRequest{
		Symbol: order.Symbol,
		Side:   order.Side,
		Type:   order.Type,
		Amount: order.Amount,
		Price:  order.Price,
	}

	var lastErr error
	backoff := time.Duration(p.cfg.RetryBaseMs) * time.Millisecond
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return venue.PlaceOrderResult{}, apperrors.New(apperrors.ErrNetwork, "order placement aborted", ctx.Err())
			}
			backoff *= 2
		}

		result, err := p.registry.PlaceOrder(ctx, order.VenueID, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if apperrors.Is(err, apperrors.ErrVenueRejected) {
			break
		}
		logger.Warn("venue placement attempt failed",
			"order_id", order.ID, "venue", order.VenueID,
			"attempt", attempt+1, "error", err.Error())
	}
	return venue.PlaceOrderResult{}, lastErr
}

func (p *Pipeline) release(ctx context.Context, order *model.InternalOrder, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	err := p.allocator.Deallocate(ctx, order.Allocation.AllocatedFrom, order.Allocation.Asset,
		order.BrokerID, order.UserID, amount)
	if err != nil {
		logger.LogError(ctx, err, "failed to release order reservation",
			"order_id", order.ID, "amount", amount.String())
		return
	}
	order.Allocation.AllocatedAmount = order.Allocation.AllocatedAmount.Sub(amount)
}

func (p *Pipeline) reject(ctx context.Context, order *model.InternalOrder, cause error) {
	reason := cause.Error()
	if appErr := apperrors.Wrap(cause); appErr != nil {
		reason = string(appErr.Type)
	}
	p.transition(ctx, order, model.OrderRejected, reason)
}

func (p *Pipeline) transition(ctx context.Context, order *model.InternalOrder, status model.OrderStatus, reason string) {
	order.Status = status
	order.RejectReason = reason
	order.UpdatedAt = time.Now().UTC()
	if err := p.orders.Update(ctx, order); err != nil {
		logger.LogError(ctx, err, "failed to persist order transition",
			"order_id", order.ID, "status", string(status))
	}
	if status.Terminal() {
		metrics.OrdersTotal.WithLabelValues(string(status), string(order.Side)).Inc()
	}
}

func (p *Pipeline) emit(ctx context.Context, event events.Event) {
	if p.emitter == nil {
		return
	}
	if err := p.emitter.Emit(ctx, event); err != nil {
		logger.LogError(ctx, err, "event emission failed", "type", event.Type)
	}
}
