package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
)

// streamRepo implements storage.StreamRepo.
type streamRepo struct {
	tx *tx
}

// NextID reserves the next stream id.
func (r *streamRepo) NextID(_ context.Context) (uint64, error) {
	if err := r.tx.writable(); err != nil {
		return 0, err
	}
	// Atomic holds the store lock for the whole unit.
	r.tx.store.nextID++
	return r.tx.store.nextID, nil
}

// Insert adds a new stream. Returns ErrDuplicateKey if the id exists.
func (r *streamRepo) Insert(_ context.Context, s *domain.Stream) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if s == nil || s.ID == 0 {
		return storage.ErrInvalidInput
	}
	if _, exists := r.tx.st.streams[s.ID]; exists {
		return storage.ErrDuplicateKey
	}
	r.tx.st.streams[s.ID] = s.Clone()
	return nil
}

// Get retrieves a stream by id. Returns ErrNotFound if not exists.
func (r *streamRepo) Get(_ context.Context, id uint64) (*domain.Stream, error) {
	s, exists := r.tx.st.streams[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.Clone(), nil
}

// Update overwrites an existing stream. Returns ErrNotFound if not exists.
func (r *streamRepo) Update(_ context.Context, s *domain.Stream) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if s == nil {
		return storage.ErrInvalidInput
	}
	if _, exists := r.tx.st.streams[s.ID]; !exists {
		return storage.ErrNotFound
	}
	r.tx.st.streams[s.ID] = s.Clone()
	return nil
}

// Delete removes a stream. Returns ErrNotFound if not exists.
func (r *streamRepo) Delete(_ context.Context, id uint64) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if _, exists := r.tx.st.streams[id]; !exists {
		return storage.ErrNotFound
	}
	delete(r.tx.st.streams, id)
	return nil
}

// ListByParticipant returns streams where addr is sender or recipient.
func (r *streamRepo) ListByParticipant(_ context.Context, addr domain.Address) ([]*domain.Stream, error) {
	var result []*domain.Stream
	for _, s := range r.tx.st.streams {
		if s.IsParticipant(addr) {
			result = append(result, s.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// TotalRemaining sums the remaining balances of streams in tokenID.
func (r *streamRepo) TotalRemaining(_ context.Context, tokenID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, s := range r.tx.st.streams {
		if s.Token == tokenID {
			total = total.Add(s.RemainingBalance)
		}
	}
	return total, nil
}

// compoundingRepo implements storage.CompoundingRepo.
type compoundingRepo struct {
	tx *tx
}

// Insert adds metadata for a stream. Returns ErrDuplicateKey if present.
func (r *compoundingRepo) Insert(_ context.Context, m *domain.CompoundingMeta) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if m == nil || m.StreamID == 0 {
		return storage.ErrInvalidInput
	}
	if _, exists := r.tx.st.compounding[m.StreamID]; exists {
		return storage.ErrDuplicateKey
	}
	r.tx.st.compounding[m.StreamID] = m.Clone()
	return nil
}

// Get retrieves metadata by stream id. Returns ErrNotFound if not exists.
func (r *compoundingRepo) Get(_ context.Context, streamID uint64) (*domain.CompoundingMeta, error) {
	m, exists := r.tx.st.compounding[streamID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

// Update overwrites existing metadata. Returns ErrNotFound if not exists.
func (r *compoundingRepo) Update(_ context.Context, m *domain.CompoundingMeta) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if m == nil {
		return storage.ErrInvalidInput
	}
	if _, exists := r.tx.st.compounding[m.StreamID]; !exists {
		return storage.ErrNotFound
	}
	r.tx.st.compounding[m.StreamID] = m.Clone()
	return nil
}

// Delete removes metadata. Returns ErrNotFound if not exists.
func (r *compoundingRepo) Delete(_ context.Context, streamID uint64) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if _, exists := r.tx.st.compounding[streamID]; !exists {
		return storage.ErrNotFound
	}
	delete(r.tx.st.compounding, streamID)
	return nil
}

var (
	_ storage.StreamRepo      = (*streamRepo)(nil)
	_ storage.CompoundingRepo = (*compoundingRepo)(nil)
)
