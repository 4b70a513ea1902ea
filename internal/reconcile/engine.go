package reconcile

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
	"github.com/omnigate/omnigate/internal/venue"
)

// Engine compares the ledger's view of every (venue, asset) pair against the
// venue-reported balance and records the verdict. It is the only component
// allowed to refresh totalPlatformBalance.
type Engine struct {
	registry  *venue.Registry
	allocator *ledger.Allocator
	records   RecordStore
	emitter   events.Emitter
	lock      Lock
	tolerance decimal.Decimal
	cfg       config.ReconcileConfig
}

// Summary reports one reconciliation run. A run that could not reach some
// venues still completes for the pairs it did reach.
type Summary struct {
	StartedAt     time.Time
	Pairs         int
	Balanced      int
	Discrepancies int
	Skipped       int
	Records       []*model.ReconciliationRecord
}

func NewEngine(registry *venue.Registry, allocator *ledger.Allocator, records RecordStore, emitter events.Emitter, lock Lock, cfg config.ReconcileConfig) *Engine {
	tolerance, err := decimal.NewFromString(cfg.Tolerance)
	if err != nil || tolerance.IsNegative() {
		tolerance = decimal.RequireFromString("0.00000001")
	}
	if cfg.VenueTimeoutSeconds <= 0 {
		cfg.VenueTimeoutSeconds = 15
	}
	return &Engine{
		registry:  registry,
		allocator: allocator,
		records:   records,
		emitter:   emitter,
		lock:      lock,
		tolerance: tolerance,
		cfg:       cfg,
	}
}

// RunExclusive takes the distributed lock before reconciling. Contention is
// benign: another instance is already doing the work, so the caller gets
// LOCK_UNAVAILABLE and should simply wait for the next tick.
func (e *Engine) RunExclusive(ctx context.Context) (*Summary, error) {
	token, acquired, err := e.lock.Acquire(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrNetwork, "reconciliation lock acquire failed", err)
	}
	if !acquired {
		logger.Debug("reconciliation lock held elsewhere, skipping run")
		return nil, apperrors.Newf(apperrors.ErrLockUnavailable, "reconciliation already running")
	}
	defer func() {
		if err := e.lock.Release(ctx, token); err != nil {
			logger.LogError(ctx, err, "reconciliation lock release failed")
		}
	}()
	return e.Run(ctx)
}

// Run reconciles every ledger pair plus any configured (venue, asset) pair
// the ledger does not track yet, so a fresh deployment bootstraps its rows
// from venue-reported balances on the first run. Callers that need mutual
// exclusion must go through RunExclusive.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	rows, err := e.allocator.Pairs(ctx)
	if err != nil {
		return nil, err
	}

	summary := &Summary{StartedAt: time.Now().UTC(), Pairs: len(rows)}
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		seen[row.VenueID+"/"+row.Asset] = true
		record, err := e.reconcilePair(ctx, row)
		if err != nil {
			// Unreachable venue: skip the pair, keep going. The pair keeps
			// its previous record and gets retried next run.
			logger.LogError(ctx, err, "reconciliation skipped pair",
				"venue", row.VenueID, "asset", row.Asset)
			summary.Skipped++
			continue
		}
		e.tally(summary, record)
	}

	for _, cfg := range e.registry.Configs() {
		for _, asset := range cfg.Assets() {
			if seen[cfg.ID+"/"+asset] {
				continue
			}
			seen[cfg.ID+"/"+asset] = true
			record, err := e.reconcilePair(ctx, model.NewPlatformFundAllocation(cfg.ID, asset, decimal.Zero))
			if err != nil {
				// The venue reports nothing for this asset yet, so there is
				// no balance to adopt.
				logger.Debug("pair discovery skipped",
					"venue", cfg.ID, "asset", asset, "error", err.Error())
				continue
			}
			summary.Pairs++
			e.tally(summary, record)
		}
	}

	outcome := "completed"
	if summary.Skipped > 0 {
		outcome = "partial"
	}
	metrics.ReconciliationRuns.WithLabelValues(outcome).Inc()
	logger.Info("reconciliation run completed",
		"pairs", summary.Pairs, "balanced", summary.Balanced,
		"discrepancies", summary.Discrepancies, "skipped", summary.Skipped)

	if e.emitter != nil {
		event := events.New(events.TypeReconciliationCompleted, "reconciliation", summary)
		if err := e.emitter.Emit(ctx, event); err != nil {
			logger.LogError(ctx, err, "event emission failed", "type", event.Type)
		}
	}
	return summary, nil
}

func (e *Engine) tally(summary *Summary, record *model.ReconciliationRecord) {
	summary.Records = append(summary.Records, record)
	if record.Status == model.ReconBalanced {
		summary.Balanced++
	} else {
		summary.Discrepancies++
	}
}

func (e *Engine) reconcilePair(ctx context.Context, row *model.PlatformFundAllocation) (*model.ReconciliationRecord, error) {
	callCtx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.VenueTimeoutSeconds)*time.Second)
	defer cancel()

	balance, err := e.registry.GetBalance(callCtx, row.VenueID, row.Asset)
	if err != nil {
		return nil, err
	}

	actual := balance.Total
	// The ledger claim is the component sum, not the cached platform total,
	// so drift inside the row surfaces through the record as well.
	ledgerTotal := row.AvailableForAllocation.Add(row.AllocatedTotal())
	status, diff := model.ClassifyReconciliation(actual, ledgerTotal, e.tolerance)

	record := &model.ReconciliationRecord{
		ID:              uuid.NewString(),
		VenueID:         row.VenueID,
		Asset:           row.Asset,
		ActualBalance:   actual,
		AllocatedAmount: ledgerTotal,
		Difference:      diff,
		Status:          status,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.records.Append(ctx, record); err != nil {
		return nil, err
	}

	switch status {
	case model.ReconOverAllocated:
		// The ledger promises more than the venue holds. Critical: funds may
		// be missing on the venue side.
		metrics.ReconciliationDiscrepancies.WithLabelValues(row.VenueID, string(status)).Inc()
		logger.Error("reconciliation discrepancy: ledger exceeds venue balance",
			"venue", row.VenueID, "asset", row.Asset,
			"actual", actual.String(), "ledger", ledgerTotal.String(),
			"difference", diff.String())
	case model.ReconUnderAllocated:
		metrics.ReconciliationDiscrepancies.WithLabelValues(row.VenueID, string(status)).Inc()
		logger.Warn("reconciliation discrepancy: venue holds more than ledger",
			"venue", row.VenueID, "asset", row.Asset,
			"actual", actual.String(), "ledger", ledgerTotal.String(),
			"difference", diff.String())
	}

	if err := e.allocator.RefreshPlatformBalance(ctx, row.VenueID, row.Asset, actual); err != nil {
		return nil, err
	}
	return record, nil
}

// Balanced reports whether the latest record for a pair reconciled cleanly.
// Pairs with no record yet are not balanced: nothing has vouched for them.
func (e *Engine) Balanced(ctx context.Context, venueID, asset string) (bool, error) {
	latest, err := e.records.Latest(ctx, venueID, asset)
	if err != nil {
		return false, err
	}
	return latest != nil && latest.Status == model.ReconBalanced, nil
}

// Start runs reconciliation on the configured interval until the context
// ends. Lock contention and per-run errors are logged, never fatal.
func (e *Engine) Start(ctx context.Context) {
	interval := time.Duration(e.cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		logger.Info("reconciliation loop started", "interval", interval.String())
		runOnce := func() {
			if _, err := e.RunExclusive(ctx); err != nil && !apperrors.Is(err, apperrors.ErrLockUnavailable) {
				logger.LogError(ctx, err, "reconciliation run failed")
			}
		}
		// First run immediately so a fresh deployment gets its ledger rows
		// without waiting out a full interval.
		runOnce()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runOnce()
			}
		}
	}()
}
