package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/omnigate/omnigate/internal/model"
)

// MemoryRepository is the in-memory Repository used by tests and the local
// profile.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[string]*model.PlatformFundAllocation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[string]*model.PlatformFundAllocation)}
}

func pairKey(venueID, asset string) string {
	return venueID + ":" + asset
}

func (r *MemoryRepository) Get(_ context.Context, venueID, asset string) (*model.PlatformFundAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[pairKey(venueID, asset)]
	if !ok {
		return nil, nil
	}
	return row.Clone(), nil
}

func (r *MemoryRepository) Save(_ context.Context, row *model.PlatformFundAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[pairKey(row.VenueID, row.Asset)] = row.Clone()
	return nil
}

func (r *MemoryRepository) List(_ context.Context) ([]*model.PlatformFundAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.rows))
	for k := range r.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*model.PlatformFundAllocation, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.rows[k].Clone())
	}
	return out, nil
}
