package compliance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/logger"
)

// Repository persists compliance records. Both stores are append-only.
type Repository interface {
	SaveTravelRule(ctx context.Context, record *model.TravelRuleRecord) error
	SaveCrossBorder(ctx context.Context, report *model.CrossBorderReport) error
	TravelRulesByOrder(ctx context.Context, orderID string) ([]*model.TravelRuleRecord, error)
	CrossBorderByOrder(ctx context.Context, orderID string) ([]*model.CrossBorderReport, error)
}

// MemoryRepository keeps compliance records in memory for tests and the
// local profile.
type MemoryRepository struct {
	mu          sync.Mutex
	travelRules []*model.TravelRuleRecord
	crossBorder []*model.CrossBorderReport
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) SaveTravelRule(_ context.Context, record *model.TravelRuleRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.travelRules = append(r.travelRules, &cp)
	return nil
}

func (r *MemoryRepository) SaveCrossBorder(_ context.Context, report *model.CrossBorderReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *report
	r.crossBorder = append(r.crossBorder, &cp)
	return nil
}

func (r *MemoryRepository) TravelRulesByOrder(_ context.Context, orderID string) ([]*model.TravelRuleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.TravelRuleRecord
	for _, rec := range r.travelRules {
		if rec.OrderID == orderID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) CrossBorderByOrder(_ context.Context, orderID string) ([]*model.CrossBorderReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.CrossBorderReport
	for _, rep := range r.crossBorder {
		if rep.OrderID == orderID {
			cp := *rep
			out = append(out, &cp)
		}
	}
	return out, nil
}

// RecordBuilder derives compliance records from filled orders. Recording
// failures are logged, never bubbled up: a fill must not be blocked by the
// reporting path.
type RecordBuilder struct {
	repo      Repository
	threshold decimal.Decimal
}

// NewRecordBuilder takes the travel-rule reporting threshold in quote units.
func NewRecordBuilder(repo Repository, threshold decimal.Decimal) *RecordBuilder {
	return &RecordBuilder{repo: repo, threshold: threshold}
}

// OnFill inspects a filled order and writes the applicable records. The
// travel rule record is only produced when the filled notional meets the
// threshold; the cross-border report is written for every fill.
func (b *RecordBuilder) OnFill(ctx context.Context, order *model.InternalOrder, quoteAsset string) {
	if order.Status != model.OrderFilled && order.Status != model.OrderPartiallyFilled {
		return
	}
	notional := order.FilledAmount.Mul(order.AveragePrice)
	now := time.Now().UTC()

	if b.threshold.IsPositive() && notional.GreaterThanOrEqual(b.threshold) {
		record := &model.TravelRuleRecord{
			ID:          uuid.NewString(),
			OrderID:     order.ID,
			TenantID:    order.TenantID,
			BrokerID:    order.BrokerID,
			UserID:      order.UserID,
			Originator:  order.BrokerID + "/" + order.UserID,
			Beneficiary: order.VenueID,
			Asset:       quoteAsset,
			Amount:      notional,
			CreatedAt:   now,
		}
		if err := b.repo.SaveTravelRule(ctx, record); err != nil {
			logger.LogError(ctx, err, "travel rule record write failed", "order_id", order.ID)
		}
	}

	report := &model.CrossBorderReport{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		TenantID:     order.TenantID,
		VenueID:      order.VenueID,
		Jurisdiction: jurisdictionOf(order.VenueID),
		Asset:        quoteAsset,
		Amount:       notional,
		CreatedAt:    now,
	}
	if err := b.repo.SaveCrossBorder(ctx, report); err != nil {
		logger.LogError(ctx, err, "cross border report write failed", "order_id", order.ID)
	}
}

// jurisdictionOf maps a venue to its reporting jurisdiction. Venue metadata
// does not carry this yet, so everything reports as offshore.
// TODO: read the jurisdiction from venue config once adapters expose it.
func jurisdictionOf(string) string {
	return "offshore"
}
