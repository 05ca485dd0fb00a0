package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
//
// Writers are serialized by a mutex. Atomic runs fn against a deep copy of the
// state and swaps it in only when fn succeeds, so a failed unit leaves no trace.
type Store struct {
	mu     sync.RWMutex
	state  *state
	nextID uint64 // outside state: reserved ids survive rollback
}

// state is everything a unit of work may touch.
type state struct {
	streams     map[uint64]*domain.Stream
	compounding map[uint64]*domain.CompoundingMeta
	feePercent  uint8
	whitelist   map[string]struct{}
	earnings    map[string]decimal.Decimal
	tokens      map[string]*tokenState
}

// tokenState holds one token's balances and allowances.
type tokenState struct {
	info       domain.TokenInfo
	balances   map[domain.Address]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
}

type allowanceKey struct {
	owner   domain.Address
	spender domain.Address
}

// NewStore creates a new empty in-memory store.
func NewStore() *Store {
	return &Store{
		state: &state{
			streams:     make(map[uint64]*domain.Stream),
			compounding: make(map[uint64]*domain.CompoundingMeta),
			whitelist:   make(map[string]struct{}),
			earnings:    make(map[string]decimal.Decimal),
			tokens:      make(map[string]*tokenState),
		},
	}
}

// Atomic runs fn as one serialized unit of work.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(ctx, &tx{store: s, st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View runs fn against the committed state. Writes fail with ErrReadOnly.
func (s *Store) View(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return fn(ctx, &tx{store: s, st: s.state, readOnly: true})
}

func (st *state) clone() *state {
	c := &state{
		streams:     make(map[uint64]*domain.Stream, len(st.streams)),
		compounding: make(map[uint64]*domain.CompoundingMeta, len(st.compounding)),
		feePercent:  st.feePercent,
		whitelist:   make(map[string]struct{}, len(st.whitelist)),
		earnings:    make(map[string]decimal.Decimal, len(st.earnings)),
		tokens:      make(map[string]*tokenState, len(st.tokens)),
	}
	for id, s := range st.streams {
		c.streams[id] = s.Clone()
	}
	for id, m := range st.compounding {
		c.compounding[id] = m.Clone()
	}
	for t := range st.whitelist {
		c.whitelist[t] = struct{}{}
	}
	for t, v := range st.earnings {
		c.earnings[t] = v
	}
	for id, ts := range st.tokens {
		c.tokens[id] = ts.clone()
	}
	return c
}

func (ts *tokenState) clone() *tokenState {
	c := &tokenState{
		info:       ts.info,
		balances:   make(map[domain.Address]decimal.Decimal, len(ts.balances)),
		allowances: make(map[allowanceKey]decimal.Decimal, len(ts.allowances)),
	}
	for k, v := range ts.balances {
		c.balances[k] = v
	}
	for k, v := range ts.allowances {
		c.allowances[k] = v
	}
	return c
}

// tx implements storage.Tx over one state snapshot.
type tx struct {
	store    *Store
	st       *state
	readOnly bool
}

func (t *tx) Streams() storage.StreamRepo          { return &streamRepo{tx: t} }
func (t *tx) Compounding() storage.CompoundingRepo { return &compoundingRepo{tx: t} }
func (t *tx) Policy() storage.PolicyRepo           { return &policyRepo{tx: t} }
func (t *tx) Tokens() storage.TokenRegistry        { return &tokenRegistry{tx: t} }

func (t *tx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

// Verify interface compliance at compile time.
var (
	_ storage.Store = (*Store)(nil)
	_ storage.Tx    = (*tx)(nil)
)
