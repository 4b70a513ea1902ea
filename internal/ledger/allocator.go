package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/pkg/logger"
	"github.com/omnigate/omnigate/internal/pkg/metrics"
)

// Allocator performs atomic allocate/deallocate operations against the
// ledger. Mutations on the same (venue, asset) pair are serialized through a
// per-key mutex; different pairs proceed fully in parallel.
//
// TotalPlatformBalance is never touched by allocate/deallocate. Only
// RefreshPlatformBalance, called by the reconciliation engine, moves it.
type Allocator struct {
	repo Repository

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewAllocator(repo Repository) *Allocator {
	return &Allocator{
		repo:  repo,
		locks: make(map[string]*sync.Mutex),
	}
}

func (a *Allocator) keyLock(venueID, asset string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := pairKey(venueID, asset)
	l, ok := a.locks[key]
	if !ok {
		l = &sync.Mutex{}
		a.locks[key] = l
	}
	return l
}

// Seed initializes a ledger row with a venue-reported balance. Intended for
// bootstrap and tests; reconciliation keeps the row fresh afterwards.
func (a *Allocator) Seed(ctx context.Context, venueID, asset string, total decimal.Decimal) error {
	lock := a.keyLock(venueID, asset)
	lock.Lock()
	defer lock.Unlock()
	return a.repo.Save(ctx, model.NewPlatformFundAllocation(venueID, asset, total))
}

// Allocate atomically moves amount from availableForAllocation into the
// broker and nested customer allocation maps.
func (a *Allocator) Allocate(ctx context.Context, venueID, asset, brokerID, customerID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		metrics.AllocationFailures.WithLabelValues("non_positive_amount").Inc()
		return apperrors.NewInvalidOrder("allocation amount must be positive")
	}

	lock := a.keyLock(venueID, asset)
	lock.Lock()
	defer lock.Unlock()

	row, err := a.repo.Get(ctx, venueID, asset)
	if err != nil {
		return err
	}
	if row == nil {
		metrics.AllocationFailures.WithLabelValues("unknown_pair").Inc()
		return apperrors.Newf(apperrors.ErrNotFound, "no ledger row for %s/%s", venueID, asset)
	}

	if amount.GreaterThan(row.AvailableForAllocation) {
		metrics.AllocationFailures.WithLabelValues("insufficient_balance").Inc()
		return apperrors.Newf(apperrors.ErrInsufficientBalance,
			"allocation %s exceeds available %s for %s/%s",
			amount.String(), row.AvailableForAllocation.String(), venueID, asset)
	}

	row.AvailableForAllocation = row.AvailableForAllocation.Sub(amount)
	row.BrokerAllocations[brokerID] = row.BrokerAllocations[brokerID].Add(amount)
	customers := row.CustomerAllocations[brokerID]
	if customers == nil {
		customers = make(map[string]decimal.Decimal)
		row.CustomerAllocations[brokerID] = customers
	}
	customers[customerID] = customers[customerID].Add(amount)
	row.UpdatedAt = time.Now().UTC()

	a.assertInvariant(row)
	return a.repo.Save(ctx, row)
}

// Deallocate is the exact inverse of Allocate. It fails with OverDeallocation
// when the requested amount exceeds the current broker/customer allocation,
// an integrity error that should never happen if invariants hold.
func (a *Allocator) Deallocate(ctx context.Context, venueID, asset, brokerID, customerID string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewInvalidOrder("deallocation amount must be positive")
	}

	lock := a.keyLock(venueID, asset)
	lock.Lock()
	defer lock.Unlock()

	row, err := a.repo.Get(ctx, venueID, asset)
	if err != nil {
		return err
	}
	if row == nil {
		return apperrors.Newf(apperrors.ErrNotFound, "no ledger row for %s/%s", venueID, asset)
	}

	brokerAmt := row.BrokerAllocations[brokerID]
	customerAmt := row.CustomerAllocation(brokerID, customerID)
	if amount.GreaterThan(brokerAmt) || amount.GreaterThan(customerAmt) {
		err := apperrors.Newf(apperrors.ErrOverDeallocation,
			"deallocation %s exceeds allocation (broker %s, customer %s) for %s/%s",
			amount.String(), brokerAmt.String(), customerAmt.String(), venueID, asset)
		logger.LogError(ctx, err, "ledger integrity error",
			"venue", venueID, "asset", asset, "broker", brokerID, "customer", customerID)
		metrics.IntegrityViolations.Inc()
		return err
	}

	row.AvailableForAllocation = row.AvailableForAllocation.Add(amount)
	row.BrokerAllocations[brokerID] = brokerAmt.Sub(amount)
	if row.BrokerAllocations[brokerID].IsZero() {
		delete(row.BrokerAllocations, brokerID)
	}
	customers := row.CustomerAllocations[brokerID]
	customers[customerID] = customerAmt.Sub(amount)
	if customers[customerID].IsZero() {
		delete(customers, customerID)
	}
	if len(customers) == 0 {
		delete(row.CustomerAllocations, brokerID)
	}
	row.UpdatedAt = time.Now().UTC()

	a.assertInvariant(row)
	return a.repo.Save(ctx, row)
}

// GetAvailableBalance returns the nested customer allocation, not the
// platform total. Callers must not confuse the two.
func (a *Allocator) GetAvailableBalance(ctx context.Context, venueID, asset, brokerID, customerID string) (decimal.Decimal, error) {
	row, err := a.repo.Get(ctx, venueID, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if row == nil {
		return decimal.Zero, nil
	}
	return row.CustomerAllocation(brokerID, customerID), nil
}

// Unallocated returns the platform-level headroom for a pair.
func (a *Allocator) Unallocated(ctx context.Context, venueID, asset string) (decimal.Decimal, error) {
	row, err := a.repo.Get(ctx, venueID, asset)
	if err != nil {
		return decimal.Zero, err
	}
	if row == nil {
		return decimal.Zero, nil
	}
	return row.AvailableForAllocation, nil
}

// RefreshPlatformBalance moves totalPlatformBalance to the fresh
// venue-reported value. Reconciliation engine only. The delta lands in
// availableForAllocation so existing allocations are untouched.
func (a *Allocator) RefreshPlatformBalance(ctx context.Context, venueID, asset string, actual decimal.Decimal) error {
	lock := a.keyLock(venueID, asset)
	lock.Lock()
	defer lock.Unlock()

	row, err := a.repo.Get(ctx, venueID, asset)
	if err != nil {
		return err
	}
	if row == nil {
		return a.repo.Save(ctx, model.NewPlatformFundAllocation(venueID, asset, actual))
	}

	delta := actual.Sub(row.TotalPlatformBalance)
	row.TotalPlatformBalance = actual
	row.AvailableForAllocation = row.AvailableForAllocation.Add(delta)
	row.UpdatedAt = time.Now().UTC()

	if row.AvailableForAllocation.IsNegative() {
		// The venue holds less than we have already promised out. Surface
		// loudly; reconciliation has flagged the pair as over-allocated.
		logger.Error("platform balance refresh drove available below zero",
			"venue", venueID, "asset", asset,
			"available", row.AvailableForAllocation.String())
		metrics.IntegrityViolations.Inc()
	}
	return a.repo.Save(ctx, row)
}

// Snapshot returns a deep copy of the ledger row, nil when unseeded.
func (a *Allocator) Snapshot(ctx context.Context, venueID, asset string) (*model.PlatformFundAllocation, error) {
	return a.repo.Get(ctx, venueID, asset)
}

// Pairs lists every ledger row.
func (a *Allocator) Pairs(ctx context.Context) ([]*model.PlatformFundAllocation, error) {
	return a.repo.List(ctx)
}

func (a *Allocator) assertInvariant(row *model.PlatformFundAllocation) {
	if row.InvariantHolds() {
		return
	}
	logger.Error("ledger invariant violated",
		"venue", row.VenueID, "asset", row.Asset,
		"available", row.AvailableForAllocation.String(),
		"allocated", row.AllocatedTotal().String(),
		"total", row.TotalPlatformBalance.String())
	metrics.IntegrityViolations.Inc()
}
