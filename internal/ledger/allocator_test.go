package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/pkg/apperrors"
)

func newTestAllocator(t *testing.T, total int64) *Allocator {
	t.Helper()
	alloc := NewAllocator(NewMemoryRepository())
	if err := alloc.Seed(context.Background(), "venue-a", "USDT", decimal.NewFromInt(total)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return alloc
}

func TestAllocateDecrementsAvailable(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 1000)

	if err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(400)); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}

	available, err := alloc.Unallocated(ctx, "venue-a", "USDT")
	if err != nil {
		t.Fatalf("unallocated failed: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected available 600, got %s", available)
	}

	nested, err := alloc.GetAvailableBalance(ctx, "venue-a", "USDT", "brokerA", "cust1")
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	if !nested.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("expected customer allocation 400, got %s", nested)
	}
}

func TestAllocateRejectsInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 1000)

	if err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(400)); err != nil {
		t.Fatalf("first allocate failed: %v", err)
	}

	err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust2", decimal.NewFromInt(700))
	if !apperrors.Is(err, apperrors.ErrInsufficientBalance) {
		t.Fatalf("expected INSUFFICIENT_BALANCE, got %v", err)
	}

	// Ledger must be unchanged by the failed allocation.
	row, err := alloc.Snapshot(ctx, "venue-a", "USDT")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !row.AvailableForAllocation.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("ledger mutated by failed allocate: available %s", row.AvailableForAllocation)
	}
	if !row.InvariantHolds() {
		t.Fatalf("invariant broken after failed allocate")
	}
	if !row.CustomerAllocation("brokerA", "cust2").IsZero() {
		t.Fatalf("cust2 should have no allocation")
	}
}

func TestAllocateRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 100)

	for _, amt := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", amt)
		if !apperrors.Is(err, apperrors.ErrInvalidOrder) {
			t.Fatalf("expected INVALID_ORDER for amount %s, got %v", amt, err)
		}
	}
}

func TestDeallocateIsExactInverse(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 1000)

	if err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(250)); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if err := alloc.Deallocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(250)); err != nil {
		t.Fatalf("deallocate failed: %v", err)
	}

	row, err := alloc.Snapshot(ctx, "venue-a", "USDT")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !row.AvailableForAllocation.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected available restored to 1000, got %s", row.AvailableForAllocation)
	}
	if len(row.BrokerAllocations) != 0 {
		t.Fatalf("expected broker allocations cleared, got %v", row.BrokerAllocations)
	}
	if !row.InvariantHolds() {
		t.Fatalf("invariant broken after deallocate")
	}
}

func TestDeallocateOverAllocationIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 1000)

	if err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}

	err := alloc.Deallocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(150))
	if !apperrors.Is(err, apperrors.ErrOverDeallocation) {
		t.Fatalf("expected OVER_DEALLOCATION, got %v", err)
	}
	if !apperrors.Fatal(err) {
		t.Fatalf("over-deallocation must be classified fatal")
	}

	// No partial mutation.
	nested, _ := alloc.GetAvailableBalance(ctx, "venue-a", "USDT", "brokerA", "cust1")
	if !nested.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("allocation mutated by failed deallocate: %s", nested)
	}
}

func TestDeallocateOtherCustomerFails(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 1000)

	if err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(100)); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}

	// brokerA holds 100 in total but cust2 holds nothing.
	err := alloc.Deallocate(ctx, "venue-a", "USDT", "brokerA", "cust2", decimal.NewFromInt(50))
	if !apperrors.Is(err, apperrors.ErrOverDeallocation) {
		t.Fatalf("expected OVER_DEALLOCATION for wrong customer, got %v", err)
	}
}

func TestConcurrentAllocationsSameKeyNeverOversell(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 100)

	const workers = 50
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(10)); err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	won := 0
	for range successes {
		won++
	}
	if won != 10 {
		t.Fatalf("expected exactly 10 successful allocations of 10 from 100, got %d", won)
	}

	row, err := alloc.Snapshot(ctx, "venue-a", "USDT")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if row.AvailableForAllocation.IsNegative() {
		t.Fatalf("available went negative: %s", row.AvailableForAllocation)
	}
	if !row.InvariantHolds() {
		t.Fatalf("invariant broken under concurrency")
	}
}

func TestConcurrentAllocationsDifferentPairsProceed(t *testing.T) {
	ctx := context.Background()
	alloc := NewAllocator(NewMemoryRepository())
	assets := []string{"USDT", "BTC", "ETH", "SOL"}
	for _, asset := range assets {
		if err := alloc.Seed(ctx, "venue-a", asset, decimal.NewFromInt(1000)); err != nil {
			t.Fatalf("seed %s failed: %v", asset, err)
		}
	}

	var wg sync.WaitGroup
	for _, asset := range assets {
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(asset string) {
				defer wg.Done()
				_ = alloc.Allocate(ctx, "venue-a", asset, "brokerA", "cust1", decimal.NewFromInt(5))
			}(asset)
		}
	}
	wg.Wait()

	for _, asset := range assets {
		row, err := alloc.Snapshot(ctx, "venue-a", asset)
		if err != nil {
			t.Fatalf("snapshot %s failed: %v", asset, err)
		}
		if !row.AvailableForAllocation.Equal(decimal.NewFromInt(900)) {
			t.Fatalf("%s: expected 900 available, got %s", asset, row.AvailableForAllocation)
		}
		if !row.InvariantHolds() {
			t.Fatalf("%s: invariant broken", asset)
		}
	}
}

func TestRefreshPlatformBalancePreservesAllocations(t *testing.T) {
	ctx := context.Background()
	alloc := newTestAllocator(t, 1000)

	if err := alloc.Allocate(ctx, "venue-a", "USDT", "brokerA", "cust1", decimal.NewFromInt(400)); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}

	// Venue reports an unswept deposit: 1200 instead of 1000.
	if err := alloc.RefreshPlatformBalance(ctx, "venue-a", "USDT", decimal.NewFromInt(1200)); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	row, err := alloc.Snapshot(ctx, "venue-a", "USDT")
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if !row.TotalPlatformBalance.Equal(decimal.NewFromInt(1200)) {
		t.Fatalf("expected total 1200, got %s", row.TotalPlatformBalance)
	}
	if !row.BrokerAllocations["brokerA"].Equal(decimal.NewFromInt(400)) {
		t.Fatalf("allocation disturbed by refresh: %s", row.BrokerAllocations["brokerA"])
	}
	if !row.AvailableForAllocation.Equal(decimal.NewFromInt(800)) {
		t.Fatalf("expected available 800 after refresh, got %s", row.AvailableForAllocation)
	}
	if !row.InvariantHolds() {
		t.Fatalf("invariant broken after refresh")
	}
}
