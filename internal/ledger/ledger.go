package ledger

import (
	"context"

	"github.com/omnigate/omnigate/internal/model"
)

// Repository stores platform fund allocation rows keyed by (venue, asset).
// Implementations must return deep copies; the allocator is the only writer
// and serializes writes per key itself.
type Repository interface {
	// Get returns the row, or nil when the pair has never been seeded.
	Get(ctx context.Context, venueID, asset string) (*model.PlatformFundAllocation, error)
	Save(ctx context.Context, row *model.PlatformFundAllocation) error
	List(ctx context.Context) ([]*model.PlatformFundAllocation, error)
}
