package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/events"
	"github.com/omnigate/omnigate/internal/ledger"
	"github.com/omnigate/omnigate/internal/marketdata"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/routing"
	"github.com/omnigate/omnigate/internal/venue"
)

type testEnv struct {
	pipeline  *Pipeline
	store     *MemoryOrderStore
	registry  *venue.Registry
	adapter   *venue.MockAdapter
	allocator *ledger.Allocator
	emitter   *events.MemoryEmitter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry := venue.NewRegistry()
	adapter := venue.NewMockAdapter()
	registry.Register(config.VenueConfig{
		ID:           "venue-a",
		Name:         "Venue A",
		Priority:     1,
		FeeRate:      0.001,
		Symbols:      []string{"BTC-USDT"},
		Capabilities: []string{"spot_orders"},
	}, adapter)

	allocator := ledger.NewAllocator(ledger.NewMemoryRepository())
	ctx := context.Background()
	if err := allocator.Seed(ctx, "venue-a", "USDT", decimal.NewFromInt(100000)); err != nil {
		t.Fatalf("seed USDT failed: %v", err)
	}
	if err := allocator.Seed(ctx, "venue-a", "BTC", decimal.NewFromInt(10)); err != nil {
		t.Fatalf("seed BTC failed: %v", err)
	}

	router := routing.NewEngine(registry, marketdata.NewService(),
		routing.NewReliabilityTracker(100), config.RoutingConfig{
			PriceWeight:       0.30,
			LiquidityWeight:   0.25,
			FeeWeight:         0.15,
			LatencyWeight:     0.10,
			ReliabilityWeight: 0.20,
		})

	store := NewMemoryOrderStore()
	emitter := events.NewMemoryEmitter()
	p := New(store, allocator, router, registry, emitter, config.PipelineConfig{
		MaxRetries:    3,
		RetryBaseMs:   1,
		FeeBufferRate: 0.002,
	})
	return &testEnv{pipeline: p, store: store, registry: registry, adapter: adapter, allocator: allocator, emitter: emitter}
}

func buyRequest(nonce string) model.OrderRequest {
	return model.OrderRequest{
		TenantID: "tenant-1",
		BrokerID: "broker-1",
		UserID:   "user-1",
		Symbol:   "BTC-USDT",
		Side:     model.SideBuy,
		Type:     model.TypeLimit,
		Amount:   decimal.NewFromInt(1),
		Price:    decimal.NewFromInt(50000),
		Nonce:    nonce,
	}
}

func unallocated(t *testing.T, env *testEnv, asset string) decimal.Decimal {
	t.Helper()
	avail, err := env.allocator.Unallocated(context.Background(), "venue-a", asset)
	if err != nil {
		t.Fatalf("unallocated lookup failed: %v", err)
	}
	return avail
}

func TestSubmitOrderHappyPath(t *testing.T) {
	env := newTestEnv(t)

	order, err := env.pipeline.SubmitOrder(context.Background(), buyRequest("n1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if order.Status != model.OrderSubmitted {
		t.Fatalf("expected submitted, got %s", order.Status)
	}
	if order.VenueID != "venue-a" {
		t.Fatalf("expected venue-a, got %s", order.VenueID)
	}
	if order.Venue == nil || order.Venue.ExternalOrderID == "" {
		t.Fatalf("expected external order id, got %+v", order.Venue)
	}

	// 50000 notional plus the 0.2% fee buffer.
	wantReserve := decimal.NewFromInt(50100)
	if !order.Allocation.AllocatedAmount.Equal(wantReserve) {
		t.Fatalf("expected reserve %s, got %s", wantReserve, order.Allocation.AllocatedAmount)
	}
	if order.Allocation.Asset != "USDT" {
		t.Fatalf("buy must reserve the quote asset, got %s", order.Allocation.Asset)
	}
	if got := unallocated(t, env, "USDT"); !got.Equal(decimal.NewFromInt(49900)) {
		t.Fatalf("expected 49900 unallocated after reserve, got %s", got)
	}

	if created := env.emitter.ByType(events.TypeOrderCreated); len(created) != 1 {
		t.Fatalf("expected 1 order.created event, got %d", len(created))
	}
}

func TestSellReservesBaseAsset(t *testing.T) {
	env := newTestEnv(t)

	req := buyRequest("n1")
	req.Side = model.SideSell
	req.Amount = decimal.NewFromInt(2)

	order, err := env.pipeline.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if order.Allocation.Asset != "BTC" {
		t.Fatalf("sell must reserve the base asset, got %s", order.Allocation.Asset)
	}
	// 2 BTC plus the fee buffer.
	want := decimal.NewFromFloat(2.004)
	if !order.Allocation.AllocatedAmount.Equal(want) {
		t.Fatalf("expected reserve %s, got %s", want, order.Allocation.AllocatedAmount)
	}
}

func TestSubmitOrderIdempotentReplay(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.pipeline.SubmitOrder(context.Background(), buyRequest("n1"))
	if err != nil {
		t.Fatalf("first submit failed: %v", err)
	}
	second, err := env.pipeline.SubmitOrder(context.Background(), buyRequest("n1"))
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("replay created a new order: %s vs %s", first.ID, second.ID)
	}
	if placed := env.adapter.Placed(); len(placed) != 1 {
		t.Fatalf("expected 1 venue placement, got %d", len(placed))
	}
	// Only one reservation was taken.
	if got := unallocated(t, env, "USDT"); !got.Equal(decimal.NewFromInt(49900)) {
		t.Fatalf("expected a single reservation, unallocated %s", got)
	}
}

func TestRejectedOrderDoesNotBlockRetry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.registry.SetStatus("venue-a", model.VenueInactive); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	first, err := env.pipeline.SubmitOrder(ctx, buyRequest("n1"))
	if !apperrors.Is(err, apperrors.ErrNoEligibleVenue) {
		t.Fatalf("expected NO_ELIGIBLE_VENUE, got %v", err)
	}
	if first.Status != model.OrderRejected {
		t.Fatalf("expected rejected, got %s", first.Status)
	}

	// The venue recovers; the identical retry must get a fresh attempt
	// instead of replaying the rejection.
	if err := env.registry.SetStatus("venue-a", model.VenueActive); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	second, err := env.pipeline.SubmitOrder(ctx, buyRequest("n1"))
	if err != nil {
		t.Fatalf("retry after recovery failed: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("retry replayed the rejected order instead of creating a new one")
	}
	if second.Status != model.OrderSubmitted {
		t.Fatalf("expected submitted, got %s", second.Status)
	}

	// The rejected order stays readable by id for audit.
	got, err := env.pipeline.GetOrder(ctx, first.ID)
	if err != nil {
		t.Fatalf("get rejected order failed: %v", err)
	}
	if got.Status != model.OrderRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
}

func TestConcurrentDuplicatesCreateOneOrder(t *testing.T) {
	env := newTestEnv(t)

	const callers = 20
	var wg sync.WaitGroup
	ids := make(chan string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			order, err := env.pipeline.SubmitOrder(context.Background(), buyRequest("n1"))
			if err != nil {
				t.Errorf("submit failed: %v", err)
				return
			}
			ids <- order.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		seen[id] = true
	}
	if len(seen) != 1 {
		t.Fatalf("expected exactly one order id, got %d", len(seen))
	}
	if placed := env.adapter.Placed(); len(placed) != 1 {
		t.Fatalf("expected 1 venue placement, got %d", len(placed))
	}
	if got := unallocated(t, env, "USDT"); !got.Equal(decimal.NewFromInt(49900)) {
		t.Fatalf("expected a single reservation, unallocated %s", got)
	}
}

func TestSubmitRejectsInvalidRequest(t *testing.T) {
	env := newTestEnv(t)

	req := buyRequest("n1")
	req.Amount = decimal.Zero
	_, err := env.pipeline.SubmitOrder(context.Background(), req)
	if !apperrors.Is(err, apperrors.ErrInvalidOrder) {
		t.Fatalf("expected INVALID_ORDER, got %v", err)
	}

	req = buyRequest("n2")
	req.Side = "short"
	_, err = env.pipeline.SubmitOrder(context.Background(), req)
	if !apperrors.Is(err, apperrors.ErrInvalidOrder) {
		t.Fatalf("expected INVALID_ORDER for bad side, got %v", err)
	}
}

func TestSubmitInsufficientBalanceRejectsOrder(t *testing.T) {
	env := newTestEnv(t)

	req := buyRequest("n1")
	req.Amount = decimal.NewFromInt(100) // 5M USDT notional against 100k seeded
	order, err := env.pipeline.SubmitOrder(context.Background(), req)
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}
	if order.Status != model.OrderRejected {
		t.Fatalf("expected rejected, got %s", order.Status)
	}
	if got := unallocated(t, env, "USDT"); !got.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("failed order must not hold a reservation, unallocated %s", got)
	}
}

func TestNetworkFailuresRetryThenSucceed(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.FailPlaceOrders(2, nil) // defaults to a network error

	order, err := env.pipeline.SubmitOrder(context.Background(), buyRequest("n1"))
	if err != nil {
		t.Fatalf("submit failed after retries: %v", err)
	}
	if order.Status != model.OrderSubmitted {
		t.Fatalf("expected submitted, got %s", order.Status)
	}
}

func TestNetworkFailuresExhaustRetriesAndRelease(t *testing.T) {
	env := newTestEnv(t)
	env.adapter.FailPlaceOrders(10, nil)

	order, err := env.pipeline.SubmitOrder(context.Background(), buyRequest("n1"))
	if !apperrors.Is(err, apperrors.ErrNetwork) {
		t.Fatalf("expected NETWORK_ERROR, got %v", err)
	}
	if order.Status != model.OrderRejected {
		t.Fatalf("expected rejected, got %s", order.Status)
	}
	if got := unallocated(t, env, "USDT"); !got.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("reservation must be released on final failure, unallocated %s", got)
	}
}

func TestVenueRejectionDoesNotRetry(t *testing.T) {
	env := newTestEnv(t)

	attempts := 0
	env.adapter.PlaceHook(func(_ venue.PlaceOrderRequest) (venue.PlaceOrderResult, error) {
		attempts++
		return venue.PlaceOrderResult{}, apperrors.Newf(apperrors.ErrVenueRejected, "min notional not met")
	})

	order, err := env.pipeline.SubmitOrder(context.Background(), buyRequest("n1"))
	if !apperrors.Is(err, apperrors.ErrVenueRejected) {
		t.Fatalf("expected VENUE_REJECTED, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("venue rejection must not retry, got %d attempts", attempts)
	}
	if order.Status != model.OrderRejected {
		t.Fatalf("expected rejected, got %s", order.Status)
	}
	if got := unallocated(t, env, "USDT"); !got.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("reservation must be released on rejection, unallocated %s", got)
	}
}

func TestHandleVenueUpdateFillSettlesFeeAndLeftover(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.pipeline.SubmitOrder(ctx, buyRequest("n1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Filled below the limit price: 1 BTC at 49000.
	err = env.pipeline.HandleVenueUpdate(ctx, "venue-a", order.Venue.ExternalOrderID, venue.OrderStatus{
		Status:       "filled",
		FilledAmount: decimal.NewFromInt(1),
		AveragePrice: decimal.NewFromInt(49000),
	})
	if err != nil {
		t.Fatalf("venue update failed: %v", err)
	}

	got, err := env.pipeline.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got.Status != model.OrderFilled {
		t.Fatalf("expected filled, got %s", got.Status)
	}
	// 0.1% venue fee on 49000 notional.
	if !got.Fee.Equal(decimal.NewFromInt(49)) {
		t.Fatalf("expected fee 49, got %s", got.Fee)
	}
	// Reserved 50100, consumed 49000 + 49 fee: the rest flows back.
	if avail := unallocated(t, env, "USDT"); !avail.Equal(decimal.NewFromInt(50951)) {
		t.Fatalf("expected 50951 unallocated after settle, got %s", avail)
	}
	if filled := env.emitter.ByType(events.TypeOrderFilled); len(filled) != 1 {
		t.Fatalf("expected 1 order.filled event, got %d", len(filled))
	}
}

func TestHandleVenueUpdateCancelReleasesReserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.pipeline.SubmitOrder(ctx, buyRequest("n1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	err = env.pipeline.HandleVenueUpdate(ctx, "venue-a", order.Venue.ExternalOrderID, venue.OrderStatus{
		Status: "cancelled",
	})
	if err != nil {
		t.Fatalf("venue update failed: %v", err)
	}

	got, err := env.pipeline.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got.Status != model.OrderCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if avail := unallocated(t, env, "USDT"); !avail.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected full release on cancel, unallocated %s", avail)
	}
}

func TestHandleVenueUpdateIgnoresTerminalOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.pipeline.SubmitOrder(ctx, buyRequest("n1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	ext := order.Venue.ExternalOrderID
	if err := env.pipeline.HandleVenueUpdate(ctx, "venue-a", ext, venue.OrderStatus{Status: "cancelled"}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	// A late duplicate callback must be a no-op.
	if err := env.pipeline.HandleVenueUpdate(ctx, "venue-a", ext, venue.OrderStatus{
		Status:       "filled",
		FilledAmount: decimal.NewFromInt(1),
		AveragePrice: decimal.NewFromInt(49000),
	}); err != nil {
		t.Fatalf("late update errored: %v", err)
	}

	got, err := env.pipeline.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if got.Status != model.OrderCancelled {
		t.Fatalf("terminal order must not move, got %s", got.Status)
	}
	if avail := unallocated(t, env, "USDT"); !avail.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("late callback must not touch the ledger, unallocated %s", avail)
	}
}

func TestCancelOrderReleasesReserve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.pipeline.SubmitOrder(ctx, buyRequest("n1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	cancelled, err := env.pipeline.CancelOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != model.OrderCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if got := env.adapter.Cancelled(); len(got) != 1 || got[0] != order.Venue.ExternalOrderID {
		t.Fatalf("expected venue-side cancel of %s, got %v", order.Venue.ExternalOrderID, got)
	}
	if avail := unallocated(t, env, "USDT"); !avail.Equal(decimal.NewFromInt(100000)) {
		t.Fatalf("expected full release on cancel, unallocated %s", avail)
	}
}

func TestCancelTerminalOrderFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.pipeline.SubmitOrder(ctx, buyRequest("n1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := env.pipeline.CancelOrder(ctx, order.ID); err != nil {
		t.Fatalf("first cancel failed: %v", err)
	}
	if _, err := env.pipeline.CancelOrder(ctx, order.ID); !apperrors.Is(err, apperrors.ErrInvalidOrder) {
		t.Fatalf("expected INVALID_ORDER cancelling a terminal order, got %v", err)
	}
}

func TestIdempotencyKeyStableAcrossFieldChanges(t *testing.T) {
	a := buyRequest("n1")
	b := buyRequest("n1")
	if IdempotencyKey(a) != IdempotencyKey(b) {
		t.Fatal("identical requests must produce identical keys")
	}
	b.Amount = decimal.NewFromInt(2)
	if IdempotencyKey(a) == IdempotencyKey(b) {
		t.Fatal("different amounts must produce different keys")
	}
	c := buyRequest("n2")
	if IdempotencyKey(a) == IdempotencyKey(c) {
		t.Fatal("different nonces must produce different keys")
	}
}

func TestDispatcherSubmitsThroughWorkers(t *testing.T) {
	env := newTestEnv(t)
	d := NewDispatcher(env.pipeline, config.PipelineConfig{Workers: 4, QueueSize: 16})
	d.Start()
	defer d.Stop()

	order, err := d.Submit(context.Background(), buyRequest("n1"))
	if err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if order.Status != model.OrderSubmitted {
		t.Fatalf("expected submitted, got %s", order.Status)
	}
}

func TestDispatcherShedsWhenQueueFull(t *testing.T) {
	env := newTestEnv(t)
	// No workers started: the queue fills and stays full.
	d := NewDispatcher(env.pipeline, config.PipelineConfig{Workers: 1, QueueSize: 1})
	defer d.Stop()

	go func() {
		// Occupies the single queue slot; never picked up.
		d.Submit(context.Background(), buyRequest("n1")) //nolint:errcheck
	}()

	// Wait for the slot to be taken, then expect shedding.
	for i := 0; len(d.queue) == 0 && i < 1000; i++ {
		time.Sleep(time.Millisecond)
	}

	_, err := d.Submit(context.Background(), buyRequest("n2"))
	if !apperrors.Is(err, apperrors.ErrInternal) {
		t.Fatalf("expected queue-full error, got %v", err)
	}
}
