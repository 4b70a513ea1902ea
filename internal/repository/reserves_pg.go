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

// PostgresProofRepo stores proof-of-reserves snapshots. Rows are immutable.
type PostgresProofRepo struct {
	db *sqlx.DB
}

func NewPostgresProofRepo(db *sqlx.DB) *PostgresProofRepo {
	repo := &PostgresProofRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

type proofDB struct {
	ID              string          `db:"id"`
	VenueID         string          `db:"venue_id"`
	Asset           string          `db:"asset"`
	MerkleRoot      string          `db:"merkle_root"`
	Signature       string          `db:"signature"`
	ExchangeBalance decimal.Decimal `db:"exchange_balance"`
	InternalTotal   decimal.Decimal `db:"internal_total"`
	LeafCount       int             `db:"leaf_count"`
	GeneratedAt     time.Time       `db:"generated_at"`
}

func (r *PostgresProofRepo) Save(ctx context.Context, proof *model.ProofOfReserves) error {
	query := `INSERT INTO reserve_proofs
	              (id, venue_id, asset, merkle_root, signature, exchange_balance, internal_total, leaf_count, generated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.db.ExecContext(ctx, query,
		proof.ID, proof.VenueID, proof.Asset, proof.MerkleRoot, proof.Signature,
		proof.ExchangeBalance, proof.InternalTotal, proof.LeafCount, proof.GeneratedAt)
	return err
}

func (r *PostgresProofRepo) Latest(ctx context.Context, venueID, asset string) (*model.ProofOfReserves, error) {
	var pd proofDB
	query := `SELECT id, venue_id, asset, merkle_root, signature, exchange_balance, internal_total, leaf_count, generated_at
	          FROM reserve_proofs
	          WHERE venue_id = $1 AND asset = $2
	          ORDER BY generated_at DESC LIMIT 1`
	err := r.db.GetContext(ctx, &pd, query, venueID, asset)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &model.ProofOfReserves{
		ID:              pd.ID,
		VenueID:         pd.VenueID,
		Asset:           pd.Asset,
		MerkleRoot:      pd.MerkleRoot,
		Signature:       pd.Signature,
		ExchangeBalance: pd.ExchangeBalance,
		InternalTotal:   pd.InternalTotal,
		LeafCount:       pd.LeafCount,
		GeneratedAt:     pd.GeneratedAt,
	}, nil
}

func (r *PostgresProofRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reserve_proofs (
			id TEXT PRIMARY KEY,
			venue_id TEXT NOT NULL,
			asset TEXT NOT NULL,
			merkle_root TEXT NOT NULL,
			signature TEXT NOT NULL,
			exchange_balance NUMERIC,
			internal_total NUMERIC,
			leaf_count INT,
			generated_at TIMESTAMPTZ
		)
	`)
	return err
}
