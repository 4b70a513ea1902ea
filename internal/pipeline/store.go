package pipeline

import (
	"context"
	"sync"

	"github.com/omnigate/omnigate/internal/model"
	"github.com/omnigate/omnigate/internal/pkg/apperrors"
)

// OrderStore persists internal orders. CreateIfAbsent is the idempotency
// primitive: it must be atomic per idempotency key so two concurrent
// identical retries cannot both create an order.
type OrderStore interface {
	// CreateIfAbsent inserts the order unless one already exists for its
	// idempotency key. Returns the stored order and whether this call
	// created it.
	CreateIfAbsent(ctx context.Context, order *model.InternalOrder) (*model.InternalOrder, bool, error)
	Update(ctx context.Context, order *model.InternalOrder) error
	Get(ctx context.Context, id string) (*model.InternalOrder, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*model.InternalOrder, error)
	// FindByVenueOrder resolves a venue callback to the internal order.
	FindByVenueOrder(ctx context.Context, venueID, externalOrderID string) (*model.InternalOrder, error)
}

// MemoryOrderStore is the in-memory OrderStore for tests and the local
// profile.
type MemoryOrderStore struct {
	mu      sync.Mutex
	byID    map[string]*model.InternalOrder
	byKey   map[string]string // idempotency key -> order id
	byVenue map[string]string // venueID:externalID -> order id
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{
		byID:    make(map[string]*model.InternalOrder),
		byKey:   make(map[string]string),
		byVenue: make(map[string]string),
	}
}

func cloneOrder(o *model.InternalOrder) *model.InternalOrder {
	cp := *o
	if o.Venue != nil {
		v := *o.Venue
		cp.Venue = &v
	}
	if o.CompliancePayloads != nil {
		cp.CompliancePayloads = append([]string(nil), o.CompliancePayloads...)
	}
	return &cp
}

func (s *MemoryOrderStore) CreateIfAbsent(_ context.Context, order *model.InternalOrder) (*model.InternalOrder, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.byKey[order.IdempotencyKey]; ok {
		existing := s.byID[existingID]
		// Rejected orders never satisfy a replay: the failure may have been
		// transient (no eligible venue, network exhaustion), so an identical
		// retry gets a fresh attempt. The old order stays readable by id.
		if existing.Status != model.OrderRejected {
			return cloneOrder(existing), false, nil
		}
	}
	s.byID[order.ID] = cloneOrder(order)
	s.byKey[order.IdempotencyKey] = order.ID
	return cloneOrder(order), true, nil
}

func (s *MemoryOrderStore) Update(_ context.Context, order *model.InternalOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[order.ID]; !ok {
		return apperrors.Newf(apperrors.ErrNotFound, "order %s not found", order.ID)
	}
	s.byID[order.ID] = cloneOrder(order)
	if order.Venue != nil && order.Venue.ExternalOrderID != "" {
		s.byVenue[order.VenueID+":"+order.Venue.ExternalOrderID] = order.ID
	}
	return nil
}

func (s *MemoryOrderStore) Get(_ context.Context, id string) (*model.InternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.byID[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "order %s not found", id)
	}
	return cloneOrder(order), nil
}

func (s *MemoryOrderStore) GetByIdempotencyKey(_ context.Context, key string) (*model.InternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no order for idempotency key")
	}
	return cloneOrder(s.byID[id]), nil
}

func (s *MemoryOrderStore) FindByVenueOrder(_ context.Context, venueID, externalOrderID string) (*model.InternalOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byVenue[venueID+":"+externalOrderID]
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrNotFound, "no order for venue order %s", externalOrderID)
	}
	return cloneOrder(s.byID[id]), nil
}
