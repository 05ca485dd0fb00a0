package verification

import (
	"bytes"
	"context"
	"io"
	"log"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-stream-ledger/internal/address"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/engine"
	"token-stream-ledger/internal/events"
	"token-stream-ledger/internal/idhash"
	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/oracle"
	"token-stream-ledger/internal/storage/memory"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func addr(t *testing.T, b byte) domain.Address {
	t.Helper()
	a, err := address.FromBytes(bytes.Repeat([]byte{b}, address.KeyLength))
	require.NoError(t, err)
	return a
}

// ev builds a journal event with a valid id.
func ev(op string, seq int, at int64, streamID uint64, kind domain.EventKind, fill func(e *domain.Event)) *domain.Event {
	e := &domain.Event{OpID: op, Seq: seq, Time: at, StreamID: streamID, Kind: kind, Token: "TKN"}
	if fill != nil {
		fill(e)
	}
	e.EventID = idhash.ComputeEventID(op, seq, kind, streamID)
	return e
}

type ledger struct {
	eng     *engine.Engine
	journal *memory.EventStore
	oracle  *oracle.Static
	now     int64
	admin   domain.Address
	vault   domain.Address
	alice   domain.Address
	bob     domain.Address
}

func newLedger(t *testing.T) *ledger {
	t.Helper()
	l := &ledger{
		journal: memory.NewEventStore(),
		oracle:  oracle.NewStatic(map[string]decimal.Decimal{"cTKN": oracle.RatePrecision}),
		now:     1000,
		admin:   addr(t, 1),
		alice:   addr(t, 2),
		bob:     addr(t, 3),
	}
	vault, err := address.DeriveVault("stream-vault", l.admin)
	require.NoError(t, err)
	l.vault = vault

	metrics := observability.NewMetrics("verification_test", prometheus.NewRegistry())
	l.eng, err = engine.New(engine.Options{
		Store:   memory.NewStore(),
		Admin:   l.admin,
		Vault:   vault,
		Oracle:  l.oracle,
		Sink:    events.NewStoreSink(l.journal),
		Clock:   engine.ClockFunc(func() int64 { return l.now }),
		Logger:  log.New(io.Discard, "", 0),
		Metrics: metrics,
	})
	require.NoError(t, err)

	ctx := context.Background()
	for _, id := range []string{"TKN", "cTKN"} {
		require.NoError(t, l.eng.RegisterToken(ctx, l.admin, domain.TokenInfo{ID: id}))
		require.NoError(t, l.eng.Mint(ctx, l.admin, id, l.alice, d(100000)))
		require.NoError(t, l.eng.Approve(ctx, l.alice, id, d(100000)))
	}
	require.NoError(t, l.eng.WhitelistToken(ctx, l.admin, "cTKN"))
	require.NoError(t, l.eng.UpdateFee(ctx, l.admin, 10))
	return l
}

// run drives a base stream to cancellation, a compounding stream through a
// rebase and a withdrawal, and a base stream to full settlement.
func (l *ledger) run(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	base, err := l.eng.Create(ctx, engine.CreateParams{
		Sender: l.alice, Recipient: l.bob, Deposit: d(3600), Token: "TKN", StartTime: 1000, StopTime: 4600,
	})
	require.NoError(t, err)

	comp, err := l.eng.CreateCompounding(ctx, engine.CompoundingParams{
		CreateParams:          engine.CreateParams{Sender: l.alice, Recipient: l.bob, Deposit: d(10000), Token: "cTKN", StartTime: 1100, StopTime: 1200},
		SenderSharePercent:    50,
		RecipientSharePercent: 50,
	})
	require.NoError(t, err)

	settled, err := l.eng.Create(ctx, engine.CreateParams{
		Sender: l.alice, Recipient: l.bob, Deposit: d(100), Token: "TKN", StartTime: 1000, StopTime: 1100,
	})
	require.NoError(t, err)

	// Rebase cTKN by 1%: the vault's 10000 grows by 100.
	require.NoError(t, l.eng.Mint(ctx, l.admin, "cTKN", l.vault, d(100)))
	require.NoError(t, l.oracle.Set("cTKN", decimal.RequireFromString("1010000000000000000")))

	l.now = 1150
	_, err = l.eng.Withdraw(ctx, comp, l.bob, d(5000))
	require.NoError(t, err)

	_, err = l.eng.Withdraw(ctx, settled, l.bob, d(100))
	require.NoError(t, err)

	l.now = 1900
	_, err = l.eng.Cancel(ctx, base, l.alice)
	require.NoError(t, err)
}

func TestVerifyAll_CleanJournal(t *testing.T) {
	l := newLedger(t)
	l.run(t)

	v := NewJournalVerifier(l.journal, l.eng)
	report, err := v.VerifyAll(context.Background())
	require.NoError(t, err)

	assert.True(t, report.OK(), "%+v", report)
	assert.Equal(t, 3, report.TotalStreams)
	assert.Equal(t, 3, report.MatchedStreams)
	assert.True(t, report.Earnings["cTKN"].Equal(d(10)))

	byID := map[uint64]StreamResult{}
	for _, r := range report.Results {
		byID[r.StreamID] = r
	}

	base := byID[1]
	assert.True(t, base.Closed)
	assert.True(t, base.Settled.Equal(d(900)))
	assert.True(t, base.Refunded.Equal(d(2700)))

	comp := byID[2]
	assert.True(t, comp.Compounding)
	assert.False(t, comp.Closed)
	assert.True(t, comp.Interest.Equal(d(100)))
	assert.True(t, comp.Remaining.Equal(d(5000)))

	assert.True(t, byID[3].Closed)
	assert.True(t, byID[3].Withdrawn.Equal(d(100)))
}

func TestVerifyStream(t *testing.T) {
	l := newLedger(t)
	l.run(t)

	v := NewJournalVerifier(l.journal, l.eng)
	result, err := v.VerifyStream(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, result.Match, "%+v", result.Divergences)
	assert.Equal(t, 4, result.Events)

	_, err = v.VerifyStream(context.Background(), 99)
	assert.ErrorIs(t, err, ErrStreamNotJournaled)
}

func TestVerifyAll_DetectsStateMismatch(t *testing.T) {
	l := newLedger(t)
	l.run(t)

	// A withdrawal the ledger never performed.
	forged := ev("zz-forged", 0, 1160, 2, domain.EventWithdraw, func(e *domain.Event) { e.Amount = d(1000) })
	require.NoError(t, l.journal.Append(context.Background(), []*domain.Event{forged}))

	report, err := NewJournalVerifier(l.journal, l.eng).VerifyAll(context.Background())
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, 1, report.DivergentStreams)

	for _, r := range report.Results {
		if r.StreamID != 2 {
			continue
		}
		require.Len(t, r.Divergences, 1)
		assert.Equal(t, "remaining balance", r.Divergences[0].Check)
		assert.Equal(t, "4000", r.Divergences[0].Expected)
		assert.Equal(t, "5000", r.Divergences[0].Actual)
	}
}

func TestReplayStream(t *testing.T) {
	created := func(deposit int64) *domain.Event {
		return ev("a", 0, 100, 7, domain.EventStreamCreated, func(e *domain.Event) { e.Deposit = d(deposit) })
	}

	tests := []struct {
		name   string
		events []*domain.Event
		checks []string
	}{
		{
			name: "clean cancel",
			events: []*domain.Event{
				created(100),
				ev("b", 0, 150, 7, domain.EventWithdraw, func(e *domain.Event) { e.Amount = d(30) }),
				ev("c", 0, 160, 7, domain.EventCancel, func(e *domain.Event) { e.SenderAmount = d(40); e.RecipientAmount = d(30) }),
			},
		},
		{
			name: "cancel split does not cover the balance",
			events: []*domain.Event{
				created(100),
				ev("b", 0, 160, 7, domain.EventCancel, func(e *domain.Event) { e.SenderAmount = d(40); e.RecipientAmount = d(50) }),
			},
			checks: []string{"cancel split", "conservation"},
		},
		{
			name: "over withdraw",
			events: []*domain.Event{
				created(100),
				ev("b", 0, 150, 7, domain.EventWithdraw, func(e *domain.Event) { e.Amount = d(130) }),
			},
			checks: []string{"withdraw amount"},
		},
		{
			name: "event after settlement",
			events: []*domain.Event{
				created(100),
				ev("b", 0, 150, 7, domain.EventWithdraw, func(e *domain.Event) { e.Amount = d(100) }),
				ev("c", 0, 160, 7, domain.EventWithdraw, func(e *domain.Event) { e.Amount = d(1) }),
			},
			checks: []string{"event after close"},
		},
		{
			name: "interest split off by one",
			events: []*domain.Event{
				created(100),
				ev("a", 1, 100, 7, domain.EventCompoundingStreamCreated, func(e *domain.Event) { e.SenderShare = 50; e.RecipientShare = 50 }),
				ev("b", 0, 150, 7, domain.EventInterestPaid, func(e *domain.Event) {
					e.Growth = d(10)
					e.SenderInterest = d(5)
					e.RecipientInterest = d(4)
				}),
			},
			checks: []string{"interest split"},
		},
		{
			name: "interest on base stream",
			events: []*domain.Event{
				created(100),
				ev("b", 0, 150, 7, domain.EventInterestPaid, func(e *domain.Event) { e.Growth = d(1); e.OperatorInterest = d(1) }),
			},
			checks: []string{"interest on base stream"},
		},
		{
			name:   "missing create",
			events: []*domain.Event{ev("b", 0, 150, 7, domain.EventWithdraw, func(e *domain.Event) { e.Amount = d(1) })},
			checks: []string{"first event"},
		},
		{
			name: "tampered id",
			events: []*domain.Event{
				func() *domain.Event { e := created(100); e.EventID = "bogus"; return e }(),
			},
			checks: []string{"event_id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := replayStream(7, tt.events)
			var got []string
			for _, dv := range r.Divergences {
				got = append(got, dv.Check)
			}
			assert.Equal(t, tt.checks, got)
		})
	}
}

func TestVerifyAll_NegativeEarnings(t *testing.T) {
	journal := memory.NewEventStore()
	taken := ev("a", 0, 100, 0, domain.EventEarningsTaken, func(e *domain.Event) { e.Token = "cTKN"; e.Amount = d(5) })
	require.NoError(t, journal.Append(context.Background(), []*domain.Event{taken}))

	report, err := NewJournalVerifier(journal, nil).VerifyAll(context.Background())
	require.NoError(t, err)
	assert.False(t, report.OK())
	require.Len(t, report.EarningsDivergences, 1)
	assert.Equal(t, "earnings cTKN", report.EarningsDivergences[0].Check)
}
