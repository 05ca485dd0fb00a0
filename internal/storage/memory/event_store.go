package memory

import (
	"context"
	"sort"
	"sync"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
)

// EventStore is an in-memory implementation of storage.EventStore.
type EventStore struct {
	mu   sync.RWMutex
	data []*domain.Event
	keys map[string]bool
}

// NewEventStore creates a new in-memory event journal.
func NewEventStore() *EventStore {
	return &EventStore{
		data: make([]*domain.Event, 0),
		keys: make(map[string]bool),
	}
}

// Append adds events. Fails entire batch on any duplicate event_id.
func (s *EventStore) Append(_ context.Context, events []*domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Check for duplicates (both existing and intra-batch)
	batchKeys := make(map[string]bool)
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if s.keys[e.EventID] || batchKeys[e.EventID] {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.EventID] = true
	}

	for _, e := range events {
		c := *e
		s.data = append(s.data, &c)
		s.keys[e.EventID] = true
	}

	return nil
}

// GetByStreamID retrieves all events for a stream.
func (s *EventStore) GetByStreamID(_ context.Context, streamID uint64) ([]*domain.Event, error) {
	return s.filter(func(e *domain.Event) bool { return e.StreamID == streamID }), nil
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(_ context.Context, start, end int64) ([]*domain.Event, error) {
	return s.filter(func(e *domain.Event) bool { return e.Time >= start && e.Time <= end }), nil
}

// GetAll retrieves every event.
func (s *EventStore) GetAll(_ context.Context) ([]*domain.Event, error) {
	return s.filter(func(*domain.Event) bool { return true }), nil
}

func (s *EventStore) filter(keep func(*domain.Event) bool) []*domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Event
	for _, e := range s.data {
		if keep(e) {
			c := *e
			result = append(result, &c)
		}
	}

	SortEvents(result)
	return result
}

// SortEvents sorts events by (time, op_id, seq).
func SortEvents(events []*domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Time != events[j].Time {
			return events[i].Time < events[j].Time
		}
		if events[i].OpID != events[j].OpID {
			return events[i].OpID < events[j].OpID
		}
		return events[i].Seq < events[j].Seq
	})
}

// Verify interface compliance at compile time.
var _ storage.EventStore = (*EventStore)(nil)
