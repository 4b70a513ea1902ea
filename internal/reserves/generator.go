package reserves

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/events"
	"github.com/omnigate/omnigate/internal/ledger"
	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/pkg/logger"
	"github.com/omnigate/omnigate/internal/venue"
)

// ProofStore persists generated proofs. Immutable once written.
type ProofStore interface {
	Save(ctx context.Context, proof *model.ProofOfReserves) error
	// Latest returns the newest proof for a pair, nil when none exists.
	Latest(ctx context.Context, venueID, asset string) (*model.ProofOfReserves, error)
}

// MemoryProofStore keeps proofs in memory for tests and the local profile.
type MemoryProofStore struct {
	mu     sync.Mutex
	proofs []*model.ProofOfReserves
}

func NewMemoryProofStore() *MemoryProofStore {
	return &MemoryProofStore{}
}

func (s *MemoryProofStore) Save(_ context.Context, proof *model.ProofOfReserves) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *proof
	s.proofs = append(s.proofs, &cp)
	return nil
}

func (s *MemoryProofStore) Latest(_ context.Context, venueID, asset string) (*model.ProofOfReserves, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.proofs) - 1; i >= 0; i-- {
		p := s.proofs[i]
		if p.VenueID == venueID && p.Asset == asset {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

// BalancedChecker answers whether a pair's latest reconciliation came out
// clean. The reconciliation engine implements it.
type BalancedChecker interface {
	Balanced(ctx context.Context, venueID, asset string) (bool, error)
}

// Generator produces signed proof-of-reserves snapshots. It refuses to attest
// a pair whose latest reconciliation found a discrepancy: a proof over
// unverified numbers would be worthless.
type Generator struct {
	allocator *ledger.Allocator
	registry  *venue.Registry
	checker   BalancedChecker
	proofs    ProofStore
	emitter   events.Emitter
	signer    ed25519.PrivateKey
}

// NewSigningKey parses the hex-encoded ed25519 seed from config.
func NewSigningKey(hexSeed string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

func NewGenerator(allocator *ledger.Allocator, registry *venue.Registry, checker BalancedChecker, proofs ProofStore, emitter events.Emitter, signer ed25519.PrivateKey) *Generator {
	return &Generator{
		allocator: allocator,
		registry:  registry,
		checker:   checker,
		proofs:    proofs,
		emitter:   emitter,
		signer:    signer,
	}
}

// signingPayload is the exact byte string the signature covers.
func signingPayload(root string, ts time.Time, venueID, asset string) []byte {
	return []byte(root + "|" + strconv.FormatInt(ts.Unix(), 10) + "|" + venueID + "|" + asset)
}

// Generate builds, signs and stores a proof for one (venue, asset) pair.
func (g *Generator) Generate(ctx context.Context, venueID, asset string) (*model.ProofOfReserves, error) {
	balanced, err := g.checker.Balanced(ctx, venueID, asset)
	if err != nil {
		return nil, err
	}
	if !balanced {
		return nil, apperrors.Newf(apperrors.ErrUnreconciledBalance,
			"cannot attest %s/%s: latest reconciliation is not balanced", venueID, asset)
	}

	row, err := g.allocator.Snapshot(ctx, venueID, asset)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no ledger row for %s/%s", venueID, asset)
	}

	leaves := collectLeaves(row)
	internalTotal := decimal.Zero
	for _, leaf := range leaves {
		internalTotal = internalTotal.Add(leaf.Balance)
	}

	exchangeBalance, err := g.registry.GetBalance(ctx, venueID, asset)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	root := MerkleRoot(leaves)
	sig := ed25519.Sign(g.signer, signingPayload(root, now, venueID, asset))

	proof := &model.ProofOfReserves{
		ID:              uuid.NewString(),
		VenueID:         venueID,
		Asset:           asset,
		MerkleRoot:      root,
		Signature:       hex.EncodeToString(sig),
		ExchangeBalance: exchangeBalance.Total,
		InternalTotal:   internalTotal,
		LeafCount:       len(leaves),
		GeneratedAt:     now,
	}
	if err := g.proofs.Save(ctx, proof); err != nil {
		return nil, err
	}

	logger.Info("proof of reserves generated",
		"venue", venueID, "asset", asset,
		"leaves", proof.LeafCount, "root", proof.MerkleRoot)
	if g.emitter != nil {
		event := events.New(events.TypeProofOfReservesGenerated, venueID+":"+asset, proof)
		if err := g.emitter.Emit(ctx, event); err != nil {
			logger.LogError(ctx, err, "event emission failed", "type", event.Type)
		}
	}
	return proof, nil
}

// Verify checks a proof's signature against the generator's public key.
func (g *Generator) Verify(proof *model.ProofOfReserves) bool {
	sig, err := hex.DecodeString(proof.Signature)
	if err != nil {
		return false
	}
	pub := g.signer.Public().(ed25519.PublicKey)
	return ed25519.Verify(pub, signingPayload(proof.MerkleRoot, proof.GeneratedAt, proof.VenueID, proof.Asset), sig)
}

// collectLeaves flattens the nested customer allocations into per-user
// balances, summing across brokers when a user appears under several.
func collectLeaves(row *model.PlatformFundAllocation) []BalanceLeaf {
	byUser := make(map[string]decimal.Decimal)
	for _, customers := range row.CustomerAllocations {
		for userID, amount := range customers {
			byUser[userID] = byUser[userID].Add(amount)
		}
	}
	leaves := make([]BalanceLeaf, 0, len(byUser))
	for userID, balance := range byUser {
		leaves = append(leaves, BalanceLeaf{UserID: userID, Balance: balance})
	}
	return leaves
}
