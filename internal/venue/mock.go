package venue

import (
	"context"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/pkg/apperrors"
)

// MockAdapter is a scriptable in-memory venue used by tests and the local
// development profile. Balances and order outcomes are set up front; calls
// can be forced to fail a fixed number of times to exercise retry paths.
type MockAdapter struct {
	mu sync.Mutex

	balances map[string]Balance
	orders   map[string]OrderStatus
	healthy  bool
	latency  int64

	// failNext forces the next N PlaceOrder calls to fail.
	failNext  int
	failErr   error
	placed    []PlaceOrderRequest
	nextID    int
	placeHook func(req PlaceOrderRequest) (PlaceOrderResult, error)
	cancelled []string
}

func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		balances: make(map[string]Balance),
		orders:   make(map[string]OrderStatus),
		healthy:  true,
		latency:  5,
	}
}

func (m *MockAdapter) SetBalance(asset string, total decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[asset] = Balance{Available: total, Total: total}
}

func (m *MockAdapter) SetHealthy(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = ok
}

func (m *MockAdapter) SetLatency(ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = ms
}

// FailPlaceOrders makes the next n PlaceOrder calls return err.
func (m *MockAdapter) FailPlaceOrders(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// PlaceHook overrides order placement entirely.
func (m *MockAdapter) PlaceHook(fn func(req PlaceOrderRequest) (PlaceOrderResult, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.placeHook = fn
}

// Placed returns every accepted PlaceOrder request.
func (m *MockAdapter) Placed() []PlaceOrderRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PlaceOrderRequest, len(m.placed))
	copy(out, m.placed)
	return out
}

// Cancelled returns the external ids passed to CancelOrder.
func (m *MockAdapter) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.cancelled))
	copy(out, m.cancelled)
	return out
}

// SetOrderStatus scripts what GetOrderStatus reports for an external id.
func (m *MockAdapter) SetOrderStatus(externalOrderID string, st OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[externalOrderID] = st
}

func (m *MockAdapter) GetBalance(_ context.Context, asset string) (Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.balances[asset]
	if !ok {
		return Balance{}, apperrors.Newf(apperrors.ErrNotFound, "no balance for asset %q", asset)
	}
	return bal, nil
}

func (m *MockAdapter) PlaceOrder(_ context.Context, req PlaceOrderRequest) (PlaceOrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.placeHook != nil {
		return m.placeHook(req)
	}
	if m.failNext > 0 {
		m.failNext--
		err := m.failErr
		if err == nil {
			err = apperrors.New(apperrors.ErrNetwork, "mock venue unavailable", nil)
		}
		return PlaceOrderResult{}, err
	}
	m.nextID++
	id := "ext-" + strconv.Itoa(m.nextID)
	m.placed = append(m.placed, req)
	m.orders[id] = OrderStatus{Status: "open"}
	return PlaceOrderResult{ExternalOrderID: id, Status: "open"}, nil
}

func (m *MockAdapter) CancelOrder(_ context.Context, externalOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[externalOrderID]; !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "unknown order %q", externalOrderID)
	}
	m.cancelled = append(m.cancelled, externalOrderID)
	m.orders[externalOrderID] = OrderStatus{Status: "cancelled"}
	return nil
}

func (m *MockAdapter) GetOrderStatus(_ context.Context, externalOrderID string) (OrderStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.orders[externalOrderID]
	if !ok {
		return OrderStatus{}, apperrors.Newf(apperrors.ErrNotFound, "unknown order %q", externalOrderID)
	}
	return st, nil
}

func (m *MockAdapter) GetHealth(_ context.Context) (Health, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return Health{OK: false, ResponseTimeMs: m.latency}, apperrors.New(apperrors.ErrNetwork, "mock venue down", nil)
	}
	return Health{OK: true, ResponseTimeMs: m.latency}, nil
}
