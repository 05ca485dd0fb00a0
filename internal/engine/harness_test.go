package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"token-stream-ledger/internal/address"
	"token-stream-ledger/internal/amount"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/oracle"
	"token-stream-ledger/internal/storage"
	"token-stream-ledger/internal/storage/memory"
	"token-stream-ledger/internal/token"
)

const (
	tkn  = "TKN"
	ctkn = "cTKN"
)

var one = decimal.RequireFromString("1000000000000000000")

func testAddr(b byte) domain.Address {
	a, err := address.FromBytes(bytes.Repeat([]byte{b}, address.KeyLength))
	if err != nil {
		panic(err)
	}
	return a
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// captureSink records published batches.
type captureSink struct {
	mu      sync.Mutex
	batches [][]*domain.Event
	err     error
}

func (s *captureSink) Publish(_ context.Context, evs []*domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, evs)
	return s.err
}

func (s *captureSink) last() []*domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil
	}
	return s.batches[len(s.batches)-1]
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	eng    *Engine
	store  storage.Store
	oracle *oracle.Static
	sink   *captureSink
	now    int64

	admin domain.Address
	vault domain.Address
	alice domain.Address
	bob   domain.Address
	carol domain.Address
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithStore(t, memory.NewStore())
}

// newHarnessWithStore registers TKN and cTKN, funds alice with 1,000,000 of
// each and approves the vault for all of it. The clock starts at 1000.
func newHarnessWithStore(t *testing.T, store storage.Store) *harness {
	t.Helper()

	h := &harness{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		oracle: oracle.NewStatic(map[string]decimal.Decimal{ctkn: one}),
		sink:   &captureSink{},
		now:    1000,
		admin:  testAddr(1),
		alice:  testAddr(2),
		bob:    testAddr(3),
		carol:  testAddr(4),
	}

	vault, err := address.DeriveVault("stream-vault", h.admin)
	require.NoError(t, err)
	h.vault = vault

	h.eng, err = New(Options{
		Store:   store,
		Admin:   h.admin,
		Vault:   vault,
		Oracle:  h.oracle,
		Sink:    h.sink,
		Clock:   ClockFunc(func() int64 { return h.now }),
		Logger:  log.New(io.Discard, "", 0),
		Metrics: observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	require.NoError(t, err)

	for _, id := range []string{tkn, ctkn} {
		require.NoError(t, h.eng.RegisterToken(h.ctx, h.admin, domain.TokenInfo{ID: id, Symbol: id, Decimals: 6}))
		require.NoError(t, h.eng.Mint(h.ctx, h.admin, id, h.alice, dec(1_000_000)))
		require.NoError(t, h.eng.Approve(h.ctx, h.alice, id, dec(1_000_000)))
	}
	return h
}

func (h *harness) balance(tokenID string, holder domain.Address) decimal.Decimal {
	h.t.Helper()
	bal, err := h.eng.BalanceOf(h.ctx, tokenID, holder)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) requireBalance(tokenID string, holder domain.Address, want int64) {
	h.t.Helper()
	got := h.balance(tokenID, holder)
	require.True(h.t, got.Equal(dec(want)), "balance of %s in %s: got %s want %d", holder, tokenID, got, want)
}

// createBase opens a TKN stream from alice to bob.
func (h *harness) createBase(deposit, start, stop int64) uint64 {
	h.t.Helper()
	id, err := h.eng.Create(h.ctx, CreateParams{
		Sender:    h.alice,
		Recipient: h.bob,
		Deposit:   dec(deposit),
		Token:     tkn,
		StartTime: start,
		StopTime:  stop,
	})
	require.NoError(h.t, err)
	return id
}

// enableCompounding whitelists cTKN and sets the fee.
func (h *harness) enableCompounding(fee uint8) {
	h.t.Helper()
	require.NoError(h.t, h.eng.WhitelistToken(h.ctx, h.admin, ctkn))
	require.NoError(h.t, h.eng.UpdateFee(h.ctx, h.admin, fee))
}

// rebase simulates an interest-bearing token: the vault's cTKN balance grows
// in proportion to the exchange rate, then the oracle reports the new rate.
func (h *harness) rebase(newRate decimal.Decimal) {
	h.t.Helper()
	old, err := h.oracle.CurrentExchangeRate(h.ctx, ctkn)
	require.NoError(h.t, err)

	growth := amount.MulDiv(h.balance(ctkn, h.vault), newRate.Sub(old), old)
	if growth.IsPositive() {
		require.NoError(h.t, h.eng.Mint(h.ctx, h.admin, ctkn, h.vault, growth))
	}
	require.NoError(h.t, h.oracle.Set(ctkn, newRate))
}

// failingStore makes every vault transfer to failTo fail.
type failingStore struct {
	storage.Store
	failTo domain.Address
}

func (s *failingStore) Atomic(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, failingTx{Tx: tx, failTo: s.failTo})
	})
}

type failingTx struct {
	storage.Tx
	failTo domain.Address
}

func (t failingTx) Tokens() storage.TokenRegistry {
	return failingRegistry{TokenRegistry: t.Tx.Tokens(), failTo: t.failTo}
}

type failingRegistry struct {
	storage.TokenRegistry
	failTo domain.Address
}

func (r failingRegistry) Ledger(ctx context.Context, tokenID string) (token.Ledger, error) {
	l, err := r.TokenRegistry.Ledger(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return failingLedger{Ledger: l, failTo: r.failTo}, nil
}

var errLedgerOffline = errors.New("ledger offline")

type failingLedger struct {
	token.Ledger
	failTo domain.Address
}

func (l failingLedger) Transfer(ctx context.Context, from, to domain.Address, amt decimal.Decimal) error {
	if to == l.failTo {
		return errLedgerOffline
	}
	return l.Ledger.Transfer(ctx, from, to, amt)
}
