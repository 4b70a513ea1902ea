package marketdata

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/omnigate/omnigate/internal/model"
)

// Level is a single price level.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Orderbook is the cached state of one symbol on one venue. Fed by the
// external venue feed collaborators; consumed by the routing engine.
type Orderbook struct {
	VenueID     string
	Symbol      string
	Bids        []Level // sorted high to low
	Asks        []Level // sorted low to high
	LastUpdated time.Time
	mu          sync.RWMutex
}

func NewOrderbook(venueID, symbol string) *Orderbook {
	return &Orderbook{
		VenueID: venueID,
		Symbol:  symbol,
		Bids:    make([]Level, 0),
		Asks:    make([]Level, 0),
	}
}

// Snapshot replaces the entire book state.
func (ob *Orderbook) Snapshot(bids, asks []Level) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.Bids = sortLevels(bids, true)
	ob.Asks = sortLevels(asks, false)
	ob.LastUpdated = time.Now()
}

func sortLevels(levels []Level, descending bool) []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	if descending {
		sort.Slice(out, func(i, j int) bool {
			return out[i].Price.GreaterThan(out[j].Price)
		})
	} else {
		sort.Slice(out, func(i, j int) bool {
			return out[i].Price.LessThan(out[j].Price)
		})
	}
	return out
}

// GetCopy returns a safe copy of the current state.
func (ob *Orderbook) GetCopy() (bids, asks []Level) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	bids = make([]Level, len(ob.Bids))
	copy(bids, ob.Bids)
	asks = make([]Level, len(ob.Asks))
	copy(asks, ob.Asks)
	return
}

// BestPrice returns the price a taker would start crossing at: best ask for
// buys, best bid for sells. Zero when the side is empty.
func (ob *Orderbook) BestPrice(side model.OrderSide) decimal.Decimal {
	bids, asks := ob.GetCopy()
	if side == model.SideBuy {
		if len(asks) == 0 {
			return decimal.Zero
		}
		return asks[0].Price
	}
	if len(bids) == 0 {
		return decimal.Zero
	}
	return bids[0].Price
}

// DepthAt sums the size available on the crossing side up front, capped at
// the requested amount. Routing uses this as liquidity-at-size.
func (ob *Orderbook) DepthAt(side model.OrderSide, amount decimal.Decimal) decimal.Decimal {
	bids, asks := ob.GetCopy()
	levels := asks
	if side == model.SideSell {
		levels = bids
	}
	depth := decimal.Zero
	for _, l := range levels {
		depth = depth.Add(l.Size)
		if depth.GreaterThanOrEqual(amount) {
			return amount
		}
	}
	return depth
}

// Service caches orderbooks keyed by (venue, symbol).
type Service struct {
	mu    sync.RWMutex
	books map[string]*Orderbook
}

func NewService() *Service {
	return &Service{books: make(map[string]*Orderbook)}
}

func bookKey(venueID, symbol string) string {
	return venueID + ":" + symbol
}

// Book returns the cached book, nil when the pair has never been fed.
func (s *Service) Book(venueID, symbol string) *Orderbook {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.books[bookKey(venueID, symbol)]
}

// Update replaces the book snapshot for a (venue, symbol) pair, creating the
// book on first sight.
func (s *Service) Update(venueID, symbol string, bids, asks []Level) {
	s.mu.Lock()
	book, ok := s.books[bookKey(venueID, symbol)]
	if !ok {
		book = NewOrderbook(venueID, symbol)
		s.books[bookKey(venueID, symbol)] = book
	}
	s.mu.Unlock()

	book.Snapshot(bids, asks)
}
