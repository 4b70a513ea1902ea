package reserves

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/config"
	"github.com/omnigate/omnigate/internal/events"
	"github.com/omnigate/omnigate/internal/ledger"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
	"github.com/omnigate/omnigate/internal/venue"
)

const testSeed = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

type stubChecker struct{ balanced bool }

func (s stubChecker) Balanced(context.Context, string, string) (bool, error) {
	return s.balanced, nil
}

func newTestGenerator(t *testing.T, balanced bool) (*Generator, *ledger.Allocator, *venue.MockAdapter, *events.MemoryEmitter) {
	t.Helper()

	registry := venue.NewRegistry()
	adapter := venue.NewMockAdapter()
	registry.Register(config.VenueConfig{
		ID:           "venue-a",
		Name:         "Venue A",
		Symbols:      []string{"BTC-USDT"},
		Capabilities: []string{"spot_orders"},
	}, adapter)

	allocator := ledger.NewAllocator(ledger.NewMemoryRepository())
	key, err := NewSigningKey(testSeed)
	if err != nil {
		t.Fatalf("signing key failed: %v", err)
	}
	emitter := events.NewMemoryEmitter()
	gen := NewGenerator(allocator, registry, stubChecker{balanced: balanced}, NewMemoryProofStore(), emitter, key)
	return gen, allocator, adapter, emitter
}

func seedAllocations(t *testing.T, allocator *ledger.Allocator) {
	t.Helper()
	ctx := context.Background()
	if err := allocator.Seed(ctx, "venue-a", "USDT", decimal.NewFromInt(1000)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	for user, amount := range map[string]int64{"user-1": 300, "user-2": 200, "user-3": 100} {
		if err := allocator.Allocate(ctx, "venue-a", "USDT", "broker-1", user, decimal.NewFromInt(amount)); err != nil {
			t.Fatalf("allocate %s failed: %v", user, err)
		}
	}
}

func TestMerkleRootDeterministicAndOrderIndependent(t *testing.T) {
	a := []BalanceLeaf{
		{UserID: "user-1", Balance: decimal.NewFromInt(300)},
		{UserID: "user-2", Balance: decimal.NewFromInt(200)},
		{UserID: "user-3", Balance: decimal.NewFromInt(100)},
	}
	b := []BalanceLeaf{a[2], a[0], a[1]}

	rootA, rootB := MerkleRoot(a), MerkleRoot(b)
	if rootA == "" || rootA != rootB {
		t.Fatalf("expected identical roots, got %q and %q", rootA, rootB)
	}
	if len(rootA) != 64 {
		t.Fatalf("expected 32-byte hex root, got %d chars", len(rootA))
	}
}

func TestMerkleRootChangesWithAnyBalance(t *testing.T) {
	leaves := []BalanceLeaf{
		{UserID: "user-1", Balance: decimal.NewFromInt(300)},
		{UserID: "user-2", Balance: decimal.NewFromInt(200)},
	}
	before := MerkleRoot(leaves)
	leaves[1].Balance = decimal.NewFromInt(201)
	if MerkleRoot(leaves) == before {
		t.Fatal("changing a balance must change the root")
	}
}

func TestMerkleRootOddLeafPromoted(t *testing.T) {
	odd := []BalanceLeaf{
		{UserID: "user-1", Balance: decimal.NewFromInt(1)},
		{UserID: "user-2", Balance: decimal.NewFromInt(2)},
		{UserID: "user-3", Balance: decimal.NewFromInt(3)},
	}
	if MerkleRoot(odd) == "" {
		t.Fatal("expected a root for an odd leaf count")
	}
	if MerkleRoot(odd[:1]) == "" {
		t.Fatal("expected a root for a single leaf")
	}
	if MerkleRoot(nil) != "" {
		t.Fatal("expected empty root for no leaves")
	}
}

func TestGenerateProducesVerifiableProof(t *testing.T) {
	gen, allocator, adapter, emitter := newTestGenerator(t, true)
	seedAllocations(t, allocator)
	adapter.SetBalance("USDT", decimal.NewFromInt(1000))

	proof, err := gen.Generate(context.Background(), "venue-a", "USDT")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if proof.LeafCount != 3 {
		t.Fatalf("expected 3 leaves, got %d", proof.LeafCount)
	}
	if !proof.InternalTotal.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected internal total 600, got %s", proof.InternalTotal)
	}
	if !proof.ExchangeBalance.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected exchange balance 1000, got %s", proof.ExchangeBalance)
	}
	if !gen.Verify(proof) {
		t.Fatal("signature must verify against the signing key")
	}
	if got := emitter.ByType(events.TypeProofOfReservesGenerated); len(got) != 1 {
		t.Fatalf("expected 1 proof event, got %d", len(got))
	}
}

func TestTamperedProofFailsVerification(t *testing.T) {
	gen, allocator, adapter, _ := newTestGenerator(t, true)
	seedAllocations(t, allocator)
	adapter.SetBalance("USDT", decimal.NewFromInt(1000))

	proof, err := gen.Generate(context.Background(), "venue-a", "USDT")
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	tampered := *proof
	tampered.MerkleRoot = strings.Repeat("0", 64)
	if gen.Verify(&tampered) {
		t.Fatal("tampered root must fail verification")
	}
}

func TestGenerateRefusesUnreconciledPair(t *testing.T) {
	gen, allocator, adapter, _ := newTestGenerator(t, false)
	seedAllocations(t, allocator)
	adapter.SetBalance("USDT", decimal.NewFromInt(1000))

	_, err := gen.Generate(context.Background(), "venue-a", "USDT")
	if !apperrors.Is(err, apperrors.ErrUnreconciledBalance) {
		t.Fatalf("expected UNRECONCILED_BALANCE, got %v", err)
	}
}

func TestSigningKeyValidation(t *testing.T) {
	if _, err := NewSigningKey("not-hex"); err == nil {
		t.Fatal("expected error for invalid hex")
	}
	if _, err := NewSigningKey("abcd"); err == nil {
		t.Fatal("expected error for short seed")
	}
	if _, err := NewSigningKey(testSeed); err != nil {
		t.Fatalf("valid seed rejected: %v", err)
	}
}
