package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
)

// PostgresReconRepo is the append-only reconciliation audit trail.
type PostgresReconRepo struct {
	db *sqlx.DB
}

func NewPostgresReconRepo(db *sqlx.DB) *PostgresReconRepo {
	repo := &PostgresReconRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type reconDB struct {
	ID         string          `db:"id"`
	VenueID    string          `db:"venue_id"`
	Asset      string          `db:"asset"`
	Actual     decimal.Decimal `db:"actual_balance"`
	Allocated  decimal.Decimal `db:"allocated_amount"`
	Difference decimal.Decimal `db:"difference"`
	Status     string          `db:"status"`
	CreatedAt  time.Time       `db:"created_at"`
}

func toReconDomain(rd *reconDB) *model.ReconciliationRecord {
	return &model.ReconciliationRecord{
		ID:              rd.ID,
		VenueID:         rd.VenueID,
		Asset:           rd.Asset,
		ActualBalance:   rd.Actual,
		AllocatedAmount: rd.Allocated,
		Difference:      rd.Difference,
		Status:          model.ReconciliationStatus(rd.Status),
		CreatedAt:       rd.CreatedAt,
	}
}

func (r *PostgresReconRepo) Append(ctx context.Context, record *model.ReconciliationRecord) error {
	query := `INSERT INTO reconciliation_records
	              (id, venue_id, asset, actual_balance, allocated_amount, difference, status, created_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.VenueID, record.Asset, record.ActualBalance,
		record.AllocatedAmount, record.Difference, string(record.Status), record.CreatedAt)
	return err
}

func (r *PostgresReconRepo) Latest(ctx context.Context, venueID, asset string) (*model.ReconciliationRecord, error) {
	var rd reconDB
	query := `SELECT id, venue_id, asset, actual_balance, allocated_amount, difference, status, created_at
	          FROM reconciliation_records
	          WHERE venue_id = $1 AND asset = $2
	          ORDER BY created_at DESC LIMIT 1`
	err := r.db.GetContext(ctx, &rd, query, venueID, asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toReconDomain(&rd), nil
}

func (r *PostgresReconRepo) List(ctx context.Context, venueID, asset string, limit int) ([]*model.ReconciliationRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT id, venue_id, asset, actual_balance, allocated_amount, difference, status, created_at
	          FROM reconciliation_records
	          WHERE venue_id = $1 AND asset = $2
	          ORDER BY created_at DESC LIMIT $3`
	rows, err := r.db.QueryxContext(ctx, query, venueID, asset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ReconciliationRecord
	for rows.Next() {
		var rd reconDB
		if err := rows.StructScan(&rd); err != nil {
			return nil, err
		}
		out = append(out, toReconDomain(&rd))
	}
	return out, rows.Err()
}

func (r *PostgresReconRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reconciliation_records (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			actual_balance NUMERIC NOT NULL,
			allocated_amount NUMERIC NOT NULL,
			difference NUMERIC NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS recon_pair_created_idx ON reconciliation_records (venue_id, asset, created_at DESC)`)
	return nil
}
