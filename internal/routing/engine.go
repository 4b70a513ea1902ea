package routing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/marketdata"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/pkg/logger"
	"github.com/omnigate/omnigate/internal/venue"
)

// scoreEpsilon bounds "equal" scores for tie-breaking.
const scoreEpsilon = 1e-9

// Engine scores eligible venues for an order and picks one. Weights come
// from config so routing behavior is tunable; tie-breaks are fixed (lower
// priority value, then most recent successful health check) to keep the
// decision deterministic.
type Engine struct {
	registry *venue.Registry
	books    *marketdata.Service
	tracker  *ReliabilityTracker
	weights  config.RoutingConfig
}

func NewEngine(registry *venue.Registry, books *marketdata.Service, tracker *ReliabilityTracker, weights config.RoutingConfig) *Engine {
	return &Engine{
		registry: registry,
		books:    books,
		tracker:  tracker,
		weights:  weights,
	}
}

// Tracker exposes the reliability tracker so the pipeline and health monitor
// can feed outcomes into routing.
func (e *Engine) Tracker() *ReliabilityTracker {
	return e.tracker
}

type candidate struct {
	cfg   model.VenueConfig
	price decimal.Decimal
	depth decimal.Decimal
	score float64
}

// DetermineBestVenue picks the venue for an order, or fails with
// NoEligibleVenue. That failure is a hard error: the caller must reject the
// order rather than default to an arbitrary venue.
func (e *Engine) DetermineBestVenue(ctx context.Context, symbol string, side model.OrderSide, amount decimal.Decimal) (model.RoutingDecision, error) {
	candidates := e.eligible(symbol)
	if len(candidates) == 0 {
		return model.RoutingDecision{}, apperrors.Newf(apperrors.ErrNoEligibleVenue,
			"no active venue supports %s", symbol)
	}

	for i := range candidates {
		c := &candidates[i]
		if book := e.books.Book(c.cfg.ID, symbol); book != nil {
			c.price = book.BestPrice(side)
			c.depth = book.DepthAt(side, amount)
		}
	}

	e.score(candidates, side, amount)

	best := candidates[0]
	for _, c := range candidates[1:] {
		if better(c, best) {
			best = c
		}
	}

	decision := model.RoutingDecision{
		VenueID:   best.cfg.ID,
		Score:     best.score,
		Reason:    "weighted_score",
		DecidedAt: time.Now().UTC(),
	}
	logger.Debug("routing decision",
		"symbol", symbol, "side", string(side), "amount", amount.String(),
		"venue", decision.VenueID, "score", decision.Score)
	return decision, nil
}

// eligible filters to active venues that can place orders for the symbol.
// Registry iteration order is already deterministic (sorted by id).
func (e *Engine) eligible(symbol string) []candidate {
	var out []candidate
	for _, cfg := range e.registry.Configs() {
		if cfg.Status != model.VenueActive {
			continue
		}
		if !cfg.HasCapability(model.CapabilitySpotOrders) {
			continue
		}
		if !cfg.SupportsSymbol(symbol) {
			continue
		}
		out = append(out, candidate{cfg: cfg})
	}
	return out
}

// score fills every candidate's weighted score. Price and fee are normalized
// against the candidate set; liquidity against the requested amount;
// latency against a 2s ceiling; reliability is the trailing success ratio.
func (e *Engine) score(candidates []candidate, side model.OrderSide, amount decimal.Decimal) {
	bestPrice := bestOf(candidates, side)
	maxFee := decimal.Zero
	for _, c := range candidates {
		if c.cfg.FeeRate.GreaterThan(maxFee) {
			maxFee = c.cfg.FeeRate
		}
	}

	for i := range candidates {
		c := &candidates[i]
		w := e.weights

		priceScore := priceCompetitiveness(c.price, bestPrice, side)
		liquidityScore := 0.0
		if amount.IsPositive() {
			ratio, _ := c.depth.Div(amount).Float64()
			liquidityScore = min(ratio, 1.0)
		}
		feeScore := 1.0
		if maxFee.IsPositive() {
			ratio, _ := c.cfg.FeeRate.Div(maxFee).Float64()
			feeScore = 1.0 - ratio
		}
		latency := latencyScore(e.tracker.AvgLatency(c.cfg.ID))
		reliability := e.tracker.SuccessRatio(c.cfg.ID)

		c.score = w.PriceWeight*priceScore +
			w.LiquidityWeight*liquidityScore +
			w.FeeWeight*feeScore +
			w.LatencyWeight*latency +
			w.ReliabilityWeight*reliability
	}
}

// better implements the ordering: higher score wins; within epsilon, lower
// priority value wins; still tied, the most recent successful health check.
func better(a, b candidate) bool {
	if a.score > b.score+scoreEpsilon {
		return true
	}
	if a.score < b.score-scoreEpsilon {
		return false
	}
	if a.cfg.Priority != b.cfg.Priority {
		return a.cfg.Priority < b.cfg.Priority
	}
	return a.cfg.LastHealthOK.After(b.cfg.LastHealthOK)
}

// bestOf returns the most competitive quoted price among candidates: lowest
// ask for buys, highest bid for sells. Zero when nobody has a quote.
func bestOf(candidates []candidate, side model.OrderSide) decimal.Decimal {
	best := decimal.Zero
	for _, c := range candidates {
		if c.price.IsZero() {
			continue
		}
		if best.IsZero() {
			best = c.price
			continue
		}
		if side == model.SideBuy && c.price.LessThan(best) {
			best = c.price
		}
		if side == model.SideSell && c.price.GreaterThan(best) {
			best = c.price
		}
	}
	return best
}

// priceCompetitiveness maps a quote to [0,1]: 1.0 at the best quote, scaled
// down as the quote worsens relative to it. No quote scores 0.5 so venues
// without fresh market data are neither preferred nor excluded.
func priceCompetitiveness(price, best decimal.Decimal, side model.OrderSide) float64 {
	if price.IsZero() || best.IsZero() {
		return 0.5
	}
	var ratio decimal.Decimal
	if side == model.SideBuy {
		ratio = best.Div(price) // paying more than best shrinks the score
	} else {
		ratio = price.Div(best)
	}
	f, _ := ratio.Float64()
	return min(max(f, 0), 1.0)
}

// latencyScore maps a smoothed response time to [0,1] against a 2s ceiling.
// Unknown latency scores full marks.
func latencyScore(d time.Duration) float64 {
	if d <= 0 {
		return 1.0
	}
	const ceiling = 2 * time.Second
	if d >= ceiling {
		return 0
	}
	return 1.0 - float64(d)/float64(ceiling)
}
