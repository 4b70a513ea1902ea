package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omnigate/omnigate/internal/pkg/metrics"
)

// Domain event types emitted for downstream audit/notification consumers.
// Delivery is at-least-once; consumers deduplicate by event id.
const (
	TypeOrderCreated             = "order.created"
	TypeOrderFilled              = "order.filled"
	TypeReconciliationCompleted  = "reconciliation.completed"
	TypeProofOfReservesGenerated = "proof_of_reserves.generated"
)

type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	// AggregateID keys partitioning downstream (order id, venue id, ...).
	AggregateID string `json:"aggregate_id"`
	Payload     any    `json:"payload"`
}

func New(eventType, aggregateID string, payload any) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		OccurredAt:  time.Now().UTC(),
		AggregateID: aggregateID,
		Payload:     payload,
	}
}

// Emitter publishes domain events. Implementations must not block callers
// beyond their configured write timeout.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
	Close() error
}

// MemoryEmitter buffers events in memory. Used by tests and as the fallback
// when no broker is configured.
type MemoryEmitter struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

func (m *MemoryEmitter) Emit(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	metrics.EventsEmitted.WithLabelValues(event.Type).Inc()
	return nil
}

func (m *MemoryEmitter) Close() error { return nil }

// Events returns a copy of everything emitted so far.
func (m *MemoryEmitter) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType filters the buffered events.
func (m *MemoryEmitter) ByType(eventType string) []Event {
	var out []Event
	for _, e := range m.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
