package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
)

// PostgresComplianceRepo persists travel rule records and cross-border
// reports. Both tables are append-only.
type PostgresComplianceRepo struct {
	db *sqlx.DB
}

func NewPostgresComplianceRepo(db *sqlx.DB) *PostgresComplianceRepo {
	repo := &PostgresComplianceRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type travelRuleDB struct {
	ID          string          `db:"id"`
	OrderID     string          `db:"order_id"`
	TenantID    string          `db:"tenant_id"`
	BrokerID    string          `db:"broker_id"`
	UserID      string          `db:"user_id"`
	Originator  string          `db:"originator"`
	Beneficiary string          `db:"beneficiary"`
	Asset       string          `db:"asset"`
	Amount      decimal.Decimal `db:"amount"`
	CreatedAt   time.Time       `db:"created_at"`
}

type crossBorderDB struct {
	ID           string          `db:"id"`
	OrderID      string          `db:"order_id"`
	TenantID     string          `db:"tenant_id"`
	VenueID      string          `db:"venue_id"`
	Jurisdiction string          `db:"jurisdiction"`
	Asset        string          `db:"asset"`
	Amount       decimal.Decimal `db:"amount"`
	CreatedAt    time.Time       `db:"created_at"`
}

func (r *PostgresComplianceRepo) SaveTravelRule(ctx context.Context, record *model.TravelRuleRecord) error {
	query := `INSERT INTO travel_rule_records
	              (id, order_id, tenant_id, broker_id, user_id, originator, beneficiary, asset, amount, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.OrderID, record.TenantID, record.BrokerID, record.UserID,
		record.Originator, record.Beneficiary, record.Asset, record.Amount, record.CreatedAt)
	return err
}

func (r *PostgresComplianceRepo) SaveCrossBorder(ctx context.Context, report *model.CrossBorderReport) error {
	query := `INSERT INTO cross_border_reports
	              (id, order_id, tenant_id, venue_id, jurisdiction, asset, amount, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		report.ID, report.OrderID, report.TenantID, report.VenueID,
		report.Jurisdiction, report.Asset, report.Amount, report.CreatedAt)
	return err
}

func (r *PostgresComplianceRepo) TravelRulesByOrder(ctx context.Context, orderID string) ([]*model.TravelRuleRecord, error) {
	query := `SELECT id, order_id, tenant_id, broker_id, user_id, originator, beneficiary, asset, amount, created_at
	          FROM travel_rule_records WHERE order_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryxContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.TravelRuleRecord
	for rows.Next() {
		var td travelRuleDB
		if err := rows.StructScan(&td); err != nil {
			return nil, err
		}
		out = append(out, &model.TravelRuleRecord{
			ID:          td.ID,
			OrderID:     td.OrderID,
			TenantID:    td.TenantID,
			BrokerID:    td.BrokerID,
			UserID:      td.UserID,
			Originator:  td.Originator,
			Beneficiary: td.Beneficiary,
			Asset:       td.Asset,
			Amount:      td.Amount,
			CreatedAt:   td.CreatedAt,
		})
	}
	return out, rows.Err()
}

func (r *PostgresComplianceRepo) CrossBorderByOrder(ctx context.Context, orderID string) ([]*model.CrossBorderReport, error) {
	query := `SELECT id, order_id, tenant_id, venue_id, jurisdiction, asset, amount, created_at
	          FROM cross_border_reports WHERE order_id = $1 ORDER BY created_at`
	rows, err := r.db.QueryxContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CrossBorderReport
	for rows.Next() {
		var cd crossBorderDB
		if err := rows.StructScan(&cd); err != nil {
			return nil, err
		}
		out = append(out, &model.CrossBorderReport{
			ID:           cd.ID,
			OrderID:      cd.OrderID,
			TenantID:     cd.TenantID,
			VenueID:      cd.VenueID,
			Jurisdiction: cd.Jurisdiction,
			Asset:        cd.Asset,
			Amount:       cd.Amount,
			CreatedAt:    cd.CreatedAt,
		})
	}
	return out, rows.Err()
}

func (r *PostgresComplianceRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS travel_rule_records (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			broker_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			originator TEXT,
			beneficiary TEXT,
			asset TEXT,
			amount NUMERIC,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cross_border_reports (
			id TEXT PRIMARY KEY,
			order_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			venue_id TEXT,
			jurisdiction TEXT,
			asset TEXT,
			amount NUMERIC,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS travel_rule_order_idx ON travel_rule_records (order_id)`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS cross_border_order_idx ON cross_border_reports (order_id)`)
	return nil
}
