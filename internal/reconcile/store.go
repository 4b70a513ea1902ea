package reconcile

import (
	"context"
	"sync"

	"github.com/omnigate/omnigate/internal/model"
)

// RecordStore is the append-only audit trail of reconciliation runs.
type RecordStore interface {
	Append(ctx context.Context, record *model.ReconciliationRecord) error
	// Latest returns the newest record for a pair, nil when none exists.
	Latest(ctx context.Context, venueID, asset string) (*model.ReconciliationRecord, error)
	// List returns records for a pair, newest first, capped at limit.
	List(ctx context.Context, venueID, asset string, limit int) ([]*model.ReconciliationRecord, error)
}

// MemoryRecordStore keeps records in memory for tests and the local profile.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records []*model.ReconciliationRecord
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{}
}

func (s *MemoryRecordStore) Append(_ context.Context, record *model.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *record
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryRecordStore) Latest(_ context.Context, venueID, asset string) (*model.ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.VenueID == venueID && r.Asset == asset {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryRecordStore) List(_ context.Context, venueID, asset string, limit int) ([]*model.ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.ReconciliationRecord
	for i := len(s.records) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		r := s.records[i]
		if r.VenueID == venueID && r.Asset == asset {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}
