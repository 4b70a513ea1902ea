package routing

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/marketdata"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/venue"
)

func testWeights() config.RoutingConfig {
	return config.RoutingConfig{
		PriceWeight:       0.30,
		LiquidityWeight:   0.25,
		FeeWeight:         0.15,
		LatencyWeight:     0.10,
		ReliabilityWeight: 0.20,
		ReliabilityWindow: 100,
	}
}

func venueCfg(id string, priority int, fee float64) config.VenueConfig {
	return config.VenueConfig{
		ID:           id,
		Name:         id,
		Priority:     priority,
		FeeRate:      fee,
		Symbols:      []string{"BTC-USDT"},
		Capabilities: []string{"spot_orders"},
	}
}

func newTestEngine(t *testing.T, cfgs ...config.VenueConfig) (*Engine, *venue.Registry) {
	t.Helper()
	registry := venue.NewRegistry()
	for _, cfg := range cfgs {
		registry.Register(cfg, venue.NewMockAdapter())
	}
	books := marketdata.NewService()
	tracker := NewReliabilityTracker(100)
	return NewEngine(registry, books, tracker, testWeights()), registry
}

func TestDetermineBestVenueFiltersInactive(t *testing.T) {
	engine, registry := newTestEngine(t,
		venueCfg("venue-a", 1, 0.001),
		venueCfg("venue-b", 1, 0.001),
	)
	if err := registry.SetStatus("venue-b", model.VenueInactive); err != nil {
		t.Fatalf("set status failed: %v", err)
	}

	decision, err := engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if decision.VenueID != "venue-a" {
		t.Fatalf("expected venue-a, got %s", decision.VenueID)
	}
}

func TestDetermineBestVenueNoEligibleVenueIsHardError(t *testing.T) {
	engine, registry := newTestEngine(t, venueCfg("venue-a", 1, 0.001))
	if err := registry.SetStatus("venue-a", model.VenueDegraded); err != nil {
		t.Fatalf("set status failed: %v", err)
	}

	_, err := engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if !apperrors.Is(err, apperrors.ErrNoEligibleVenue) {
		t.Fatalf("expected NO_ELIGIBLE_VENUE, got %v", err)
	}
}

func TestDetermineBestVenueUnknownSymbol(t *testing.T) {
	engine, _ := newTestEngine(t, venueCfg("venue-a", 1, 0.001))

	_, err := engine.DetermineBestVenue(context.Background(), "DOGE-USDT", model.SideBuy, decimal.NewFromInt(1))
	if !apperrors.Is(err, apperrors.ErrNoEligibleVenue) {
		t.Fatalf("expected NO_ELIGIBLE_VENUE for unsupported symbol, got %v", err)
	}
}

func TestDegradedVenueFallsBackToNextCandidate(t *testing.T) {
	engine, registry := newTestEngine(t,
		venueCfg("venue-a", 1, 0.001),
		venueCfg("venue-c", 2, 0.001),
	)

	decision, err := engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if decision.VenueID != "venue-a" {
		t.Fatalf("expected venue-a (lower priority value), got %s", decision.VenueID)
	}

	// venue-a demoted after consecutive health failures; router must fall
	// back to venue-c.
	if err := registry.SetStatus("venue-a", model.VenueDegraded); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	decision, err = engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed after demotion: %v", err)
	}
	if decision.VenueID != "venue-c" {
		t.Fatalf("expected venue-c after demotion, got %s", decision.VenueID)
	}
}

func TestTieBreakPrefersLowerPriorityThenFreshestHealth(t *testing.T) {
	engine, _ := newTestEngine(t,
		venueCfg("venue-a", 2, 0.001),
		venueCfg("venue-b", 1, 0.001),
	)

	decision, err := engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if decision.VenueID != "venue-b" {
		t.Fatalf("expected priority tie-break to pick venue-b, got %s", decision.VenueID)
	}

	// Same priority: freshest successful health check wins.
	engine2, registry2 := newTestEngine(t,
		venueCfg("venue-a", 1, 0.001),
		venueCfg("venue-b", 1, 0.001),
	)
	now := time.Now()
	if err := registry2.RecordHealthCheck("venue-a", now.Add(-time.Minute), true); err != nil {
		t.Fatalf("record health failed: %v", err)
	}
	if err := registry2.RecordHealthCheck("venue-b", now, true); err != nil {
		t.Fatalf("record health failed: %v", err)
	}
	decision, err = engine2.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if decision.VenueID != "venue-b" {
		t.Fatalf("expected freshest health check to pick venue-b, got %s", decision.VenueID)
	}
}

func TestLowerFeeOutscoresHigherFee(t *testing.T) {
	engine, _ := newTestEngine(t,
		venueCfg("venue-a", 1, 0.002),
		venueCfg("venue-b", 1, 0.001),
	)

	decision, err := engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if decision.VenueID != "venue-b" {
		t.Fatalf("expected cheaper venue-b, got %s", decision.VenueID)
	}
}

func TestBetterPriceAndLiquidityWin(t *testing.T) {
	registry := venue.NewRegistry()
	registry.Register(venueCfg("venue-a", 1, 0.001), venue.NewMockAdapter())
	registry.Register(venueCfg("venue-b", 1, 0.001), venue.NewMockAdapter())
	books := marketdata.NewService()
	tracker := NewReliabilityTracker(100)
	engine := NewEngine(registry, books, tracker, testWeights())

	// venue-b quotes a lower ask with full depth at size.
	books.Update("venue-a", "BTC-USDT", nil, []marketdata.Level{
		{Price: decimal.NewFromFloat(50100), Size: decimal.NewFromInt(2)},
	})
	books.Update("venue-b", "BTC-USDT", nil, []marketdata.Level{
		{Price: decimal.NewFromFloat(50000), Size: decimal.NewFromInt(2)},
	})

	decision, err := engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if decision.VenueID != "venue-b" {
		t.Fatalf("expected venue-b on price, got %s", decision.VenueID)
	}
}

func TestUnreliableVenueLosesRouting(t *testing.T) {
	engine, _ := newTestEngine(t,
		venueCfg("venue-a", 1, 0.001),
		venueCfg("venue-b", 1, 0.001),
	)

	// venue-a failed most of its recent orders.
	for i := 0; i < 20; i++ {
		engine.Tracker().Record("venue-a", i%5 == 0)
		engine.Tracker().Record("venue-b", true)
	}

	decision, err := engine.DetermineBestVenue(context.Background(), "BTC-USDT", model.SideBuy, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("routing failed: %v", err)
	}
	if decision.VenueID != "venue-b" {
		t.Fatalf("expected reliable venue-b, got %s", decision.VenueID)
	}
}
