package events

import (
	"context"
	"fmt"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
)

// StoreSink appends events to an event journal.
type StoreSink struct {
	store storage.EventStore
}

// NewStoreSink creates a sink writing to store.
func NewStoreSink(store storage.EventStore) *StoreSink {
	return &StoreSink{store: store}
}

// Publish implements Sink.
func (s *StoreSink) Publish(ctx context.Context, evs []*domain.Event) error {
	if err := s.store.Append(ctx, evs); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

var _ Sink = (*StoreSink)(nil)
