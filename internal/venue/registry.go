package venue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/pkg/metrics"
)

// entry pairs a venue's adapter with its runtime config and the throttles
// that keep one slow venue from starving the worker pool.
type entry struct {
	adapter Adapter
	limiter *rate.Limiter
	// sem caps in-flight calls per venue.
	sem     chan struct{}
	timeout time.Duration

	mu  sync.RWMutex
	cfg model.VenueConfig
}

// Registry owns every venue the platform talks to. All outbound calls go
// through it so concurrency caps, rate limits and per-call timeouts are
// applied uniformly.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a venue from its static config. New venues start active;
// the health monitor takes ownership of status from there.
func (r *Registry) Register(cfg config.VenueConfig, adapter Adapter) {
	maxCalls := cfg.MaxConcurrentCalls
	if maxCalls <= 0 {
		maxCalls = 8
	}
	ordersPerSec := cfg.MaxOrdersPerSecond
	if ordersPerSec <= 0 {
		ordersPerSec = 10
	}
	timeout := time.Duration(cfg.CallTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	caps := make([]model.VenueCapability, 0, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps = append(caps, model.VenueCapability(c))
	}

	e := &entry{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(ordersPerSec), ordersPerSec),
		sem:     make(chan struct{}, maxCalls),
		timeout: timeout,
		cfg: model.VenueConfig{
			ID:           cfg.ID,
			Name:         cfg.Name,
			Status:       model.VenueActive,
			Priority:     cfg.Priority,
			FeeRate:      decimal.NewFromFloat(cfg.FeeRate),
			Capabilities: caps,
			Symbols:      cfg.Symbols,
			Limits: model.VenueLimits{
				MaxOrdersPerSecond: ordersPerSec,
			},
		},
	}

	r.mu.Lock()
	r.entries[cfg.ID] = e
	r.mu.Unlock()
}

func (r *Registry) get(venueID string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[venueID]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "unknown venue %q", venueID)
	}
	return e, nil
}

// Config returns a snapshot of the venue's runtime config.
func (r *Registry) Config(venueID string) (model.VenueConfig, error) {
	e, err := r.get(venueID)
	if err != nil {
		return model.VenueConfig{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg, nil
}

// Configs lists all venues sorted by id for deterministic iteration.
func (r *Registry) Configs() []model.VenueConfig {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	out := make([]model.VenueConfig, 0, len(ids))
	for _, id := range ids {
		if cfg, err := r.Config(id); err == nil {
			out = append(out, cfg)
		}
	}
	return out
}

// SetStatus is called by the health monitor (and admin reload) only.
func (r *Registry) SetStatus(venueID string, status model.VenueStatus) error {
	e, err := r.get(venueID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	prev := e.cfg.Status
	e.cfg.Status = status
	e.mu.Unlock()
	if prev != status {
		metrics.VenueStatusTransitions.WithLabelValues(venueID, string(status)).Inc()
	}
	return nil
}

// RecordHealthCheck stamps the last probe and, when ok, the last success.
func (r *Registry) RecordHealthCheck(venueID string, at time.Time, ok bool) error {
	e, err := r.get(venueID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg.LastHealthCheck = at
	if ok {
		e.cfg.LastHealthOK = at
	}
	e.mu.Unlock()
	return nil
}

// do wraps an outbound call with the venue's semaphore, rate limiter and
// timeout. The semaphore wait honors caller cancellation.
func (r *Registry) do(ctx context.Context, venueID, op string, fn func(ctx context.Context, a Adapter) error) error {
	e, err := r.get(venueID)
	if err != nil {
		return err
	}

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return apperrors.New(apperrors.ErrNetwork, "venue call aborted before dispatch", ctx.Err())
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return apperrors.New(apperrors.ErrNetwork, "venue rate limit wait aborted", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	err = fn(callCtx, e.adapter)
	metrics.VenueCallLatency.WithLabelValues(venueID, op).Observe(time.Since(start).Seconds())

	if callCtx.Err() != nil {
		// Timeouts are failures, never successes.
		return apperrors.New(apperrors.ErrNetwork, "venue call timed out", callCtx.Err())
	}
	return err
}

func (r *Registry) GetBalance(ctx context.Context, venueID, asset string) (Balance, error) {
	var out Balance
	err := r.do(ctx, venueID, "get_balance", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.GetBalance(ctx, asset)
		return err
	})
	return out, err
}

func (r *Registry) PlaceOrder(ctx context.Context, venueID string, req PlaceOrderRequest) (PlaceOrderResult, error) {
	var out PlaceOrderResult
	err := r.do(ctx, venueID, "place_order", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.PlaceOrder(ctx, req)
		return err
	})
	return out, err
}

func (r *Registry) CancelOrder(ctx context.Context, venueID, externalOrderID string) error {
	return r.do(ctx, venueID, "cancel_order", func(ctx context.Context, a Adapter) error {
		return a.CancelOrder(ctx, externalOrderID)
	})
}

func (r *Registry) GetOrderStatus(ctx context.Context, venueID, externalOrderID string) (OrderStatus, error) {
	var out OrderStatus
	err := r.do(ctx, venueID, "get_order_status", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.GetOrderStatus(ctx, externalOrderID)
		return err
	})
	return out, err
}

func (r *Registry) GetHealth(ctx context.Context, venueID string) (Health, error) {
	var out Health
	err := r.do(ctx, venueID, "get_health", func(ctx context.Context, a Adapter) error {
		var err error
		out, err = a.GetHealth(ctx)
		return err
	})
	return out, err
}
