package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
)

// PostgresLedgerRepo persists platform fund allocation rows. Allocation maps
// are stored as JSONB; mutation atomicity is owned by the allocator's
// per-pair locks, the repo only reads and writes whole rows.
type PostgresLedgerRepo struct {
	db *sqlx.DB
}

func NewPostgresLedgerRepo(db *sqlx.DB) *PostgresLedgerRepo {
	repo := &PostgresLedgerRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type ledgerDB struct {
	VenueID       string          `db:"venue_id"`
	Asset         string          `db:"asset"`
	Total         decimal.Decimal `db:"total_platform_balance"`
	Available     decimal.Decimal `db:"available_for_allocation"`
	BrokersJSON   []byte          `db:"broker_allocations"`
	CustomersJSON []byte          `db:"customer_allocations"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r *PostgresLedgerRepo) toDomain(ld *ledgerDB) (*model.PlatformFundAllocation, error) {
	row := &model.PlatformFundAllocation{
		VenueID:                ld.VenueID,
		Asset:                  ld.Asset,
		TotalPlatformBalance:   ld.Total,
		AvailableForAllocation: ld.Available,
		BrokerAllocations:      make(map[string]decimal.Decimal),
		CustomerAllocations:    make(map[string]map[string]decimal.Decimal),
		UpdatedAt:              ld.UpdatedAt,
	}
	if len(ld.BrokersJSON) > 0 {
		if err := json.Unmarshal(ld.BrokersJSON, &row.BrokerAllocations); err != nil {
			return nil, err
		}
	}
	if len(ld.CustomersJSON) > 0 {
		if err := json.Unmarshal(ld.CustomersJSON, &row.CustomerAllocations); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (r *PostgresLedgerRepo) Get(ctx context.Context, venueID, asset string) (*model.PlatformFundAllocation, error) {
	var ld ledgerDB
	query := `SELECT venue_id, asset, total_platform_balance, available_for_allocation,
	                 broker_allocations, customer_allocations, updated_at
	          FROM fund_allocations WHERE venue_id = $1 AND asset = $2 LIMIT 1`
	err := r.db.GetContext(ctx, &ld, query, venueID, asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return r.toDomain(&ld)
}

func (r *PostgresLedgerRepo) Save(ctx context.Context, row *model.PlatformFundAllocation) error {
	brokers, err := json.Marshal(row.BrokerAllocations)
	if err != nil {
		return err
	}
	customers, err := json.Marshal(row.CustomerAllocations)
	if err != nil {
		return err
	}

	query := `INSERT INTO fund_allocations
	              (venue_id, asset, total_platform_balance, available_for_allocation,
	               broker_allocations, customer_allocations, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          ON CONFLICT (venue_id, asset) DO UPDATE SET
	              total_platform_balance = EXCLUDED.total_platform_balance,
	              available_for_allocation = EXCLUDED.available_for_allocation,
	              broker_allocations = EXCLUDED.broker_allocations,
	              customer_allocations = EXCLUDED.customer_allocations,
	              updated_at = EXCLUDED.updated_at`
	_, err = r.db.ExecContext(ctx, query,
		row.VenueID, row.Asset, row.TotalPlatformBalance, row.AvailableForAllocation,
		brokers, customers, row.UpdatedAt)
	return err
}

func (r *PostgresLedgerRepo) List(ctx context.Context) ([]*model.PlatformFundAllocation, error) {
	query := `SELECT venue_id, asset, total_platform_balance, available_for_allocation,
	                 broker_allocations, customer_allocations, updated_at
	          FROM fund_allocations ORDER BY venue_id, asset`
	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.PlatformFundAllocation
	for rows.Next() {
		var ld ledgerDB
		if err := rows.StructScan(&ld); err != nil {
			return nil, err
		}
		row, err := r.toDomain(&ld)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *PostgresLedgerRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS fund_allocations (
			venue_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			total_platform_balance NUMERIC NOT NULL,
			available_for_allocation NUMERIC NOT NULL,
			broker_allocations JSONB,
			customer_allocations JSONB,
			updated_at TIMESTAMPTZ,
			PRIMARY KEY (venue_id, asset)
		)
	`)
	return err
}
