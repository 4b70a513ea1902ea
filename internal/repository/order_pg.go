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
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
)

// PostgresOrderRepo persists internal orders. The partial unique index on
// idempotency_key over non-rejected rows plus ON CONFLICT DO NOTHING makes
// CreateIfAbsent atomic across instances: exactly one concurrent duplicate
// wins the insert, while rejected orders stay out of the index so an
// identical retry after a transient failure can create a fresh order.
type PostgresOrderRepo struct {
	db *sqlx.DB
}

func NewPostgresOrderRepo(db *sqlx.DB) *PostgresOrderRepo {
	repo := &PostgresOrderRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type orderDB struct {
	ID             string          `db:"id"`
	TenantID       string          `db:"tenant_id"`
	BrokerID       string          `db:"broker_id"`
	UserID         string          `db:"user_id"`
	VenueID        string          `db:"venue_id"`
	ExternalID     sql.NullString  `db:"external_order_id"`
	Symbol         string          `db:"symbol"`
	Side           string          `db:"side"`
	Type           string          `db:"order_type"`
	Amount         decimal.Decimal `db:"amount"`
	Price          decimal.Decimal `db:"price"`
	Status         string          `db:"status"`
	RejectReason   sql.NullString  `db:"reject_reason"`
	FilledAmount   decimal.Decimal `db:"filled_amount"`
	AveragePrice   decimal.Decimal `db:"average_price"`
	Fee            decimal.Decimal `db:"fee"`
	AllocationJSON []byte          `db:"fund_allocation"`
	VenueJSON      []byte          `db:"venue_order"`
	IdempotencyKey string          `db:"idempotency_key"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

func toOrderDB(o *model.InternalOrder) (*orderDB, error) {
	allocation, err := json.Marshal(o.Allocation)
	if err != nil {
		return nil, err
	}
	var venueJSON []byte
	if o.Venue != nil {
		if venueJSON, err = json.Marshal(o.Venue); err != nil {
			return nil, err
		}
	}
	od := &orderDB{
		ID:             o.ID,
		TenantID:       o.TenantID,
		BrokerID:       o.BrokerID,
		UserID:         o.UserID,
		VenueID:        o.VenueID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Amount:         o.Amount,
		Price:          o.Price,
		Status:         string(o.Status),
		FilledAmount:   o.FilledAmount,
		AveragePrice:   o.AveragePrice,
		Fee:            o.Fee,
		AllocationJSON: allocation,
		VenueJSON:      venueJSON,
		IdempotencyKey: o.IdempotencyKey,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	if o.RejectReason != "" {
		od.RejectReason = sql.NullString{String: o.RejectReason, Valid: true}
	}
	if o.Venue != nil && o.Venue.ExternalOrderID != "" {
		od.ExternalID = sql.NullString{String: o.Venue.ExternalOrderID, Valid: true}
	}
	return od, nil
}

func (r *PostgresOrderRepo) toDomain(od *orderDB) (*model.InternalOrder, error) {
	o := &model.InternalOrder{
		ID:             od.ID,
		TenantID:       od.TenantID,
		BrokerID:       od.BrokerID,
		UserID:         od.UserID,
		VenueID:        od.VenueID,
		Symbol:         od.Symbol,
		Side:           model.OrderSide(od.Side),
		Type:           model.OrderType(od.Type),
		Amount:         od.Amount,
		Price:          od.Price,
		Status:         model.OrderStatus(od.Status),
		RejectReason:   od.RejectReason.String,
		FilledAmount:   od.FilledAmount,
		AveragePrice:   od.AveragePrice,
		Fee:            od.Fee,
		IdempotencyKey: od.IdempotencyKey,
		CreatedAt:      od.CreatedAt,
		UpdatedAt:      od.UpdatedAt,
	}
	if len(od.AllocationJSON) > 0 {
		if err := json.Unmarshal(od.AllocationJSON, &o.Allocation); err != nil {
			return nil, err
		}
	}
	if len(od.VenueJSON) > 0 {
		var vo model.VenueOrder
		if err := json.Unmarshal(od.VenueJSON, &vo); err != nil {
			return nil, err
		}
		o.Venue = &vo
	}
	return o, nil
}

const orderColumns = `id, tenant_id, broker_id, user_id, venue_id, external_order_id,
	symbol, side, order_type, amount, price, status, reject_reason,
	filled_amount, average_price, fee, fund_allocation, venue_order,
	idempotency_key, created_at, updated_at`

func (r *PostgresOrderRepo) CreateIfAbsent(ctx context.Context, order *model.InternalOrder) (*model.InternalOrder, bool, error) {
	od, err := toOrderDB(order)
	if err != nil {
		return nil, false, err
	}

	query := `INSERT INTO orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	          ON CONFLICT (idempotency_key) WHERE status <> 'rejected' DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		od.ID, od.TenantID, od.BrokerID, od.UserID, od.VenueID, od.ExternalID,
		od.Symbol, od.Side, od.Type, od.Amount, od.Price, od.Status, od.RejectReason,
		od.FilledAmount, od.AveragePrice, od.Fee, od.AllocationJSON, od.VenueJSON,
		od.IdempotencyKey, od.CreatedAt, od.UpdatedAt)
	if err != nil {
		return nil, false, err
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if inserted == 1 {
		return order, true, nil
	}

	existing, err := r.GetByIdempotencyKey(ctx, order.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *PostgresOrderRepo) Update(ctx context.Context, order *model.InternalOrder) error {
	od, err := toOrderDB(order)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET venue_id = $2, external_order_id = $3, status = $4, reject_reason = $5,
		    filled_amount = $6, average_price = $7, fee = $8,
		    fund_allocation = $9, venue_order = $10, updated_at = $11
		WHERE id = $1
	`, od.ID, od.VenueID, od.ExternalID, od.Status, od.RejectReason,
		od.FilledAmount, od.AveragePrice, od.Fee,
		od.AllocationJSON, od.VenueJSON, od.UpdatedAt)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperrors.Newf(apperrors.ErrNotFound, "order %s not found", order.ID)
	}
	return nil
}

func (r *PostgresOrderRepo) Get(ctx context.Context, id string) (*model.InternalOrder, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 LIMIT 1`, id)
}

func (r *PostgresOrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*model.InternalOrder, error) {
	return r.getOne(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_key = $1 AND status <> 'rejected' LIMIT 1`,
		key)
}

func (r *PostgresOrderRepo) FindByVenueOrder(ctx context.Context, venueID, externalOrderID string) (*model.InternalOrder, error) {
	return r.getOne(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE venue_id = $1 AND external_order_id = $2 LIMIT 1`,
		venueID, externalOrderID)
}

func (r *PostgresOrderRepo) getOne(ctx context.Context, query string, args ...any) (*model.InternalOrder, error) {
	var od orderDB
	err := r.db.GetContext(ctx, &od, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.Newf(apperrors.ErrNotFound, "order not found")
		}
		return nil, err
	}
	return r.toDomain(&od)
}

func (r *PostgresOrderRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			broker_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			venue_id TEXT,
			external_order_id TEXT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			order_type TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			price NUMERIC,
			status TEXT NOT NULL,
			reject_reason TEXT,
			filled_amount NUMERIC,
			average_price NUMERIC,
			fee NUMERIC,
			fund_allocation JSONB,
			venue_order JSONB,
			idempotency_key TEXT NOT NULL,
			created_at TIMESTAMPTZ,
			updated_at TIMESTAMPTZ
		)
	`)
	if err != nil {
		return err
	}
	_, _ = r.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS orders_live_idempotency_idx ON orders (idempotency_key) WHERE status <> 'rejected'`)
	_, _ = r.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS orders_venue_external_idx ON orders (venue_id, external_order_id)`)
	return nil
}
