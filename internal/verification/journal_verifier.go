package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/engine"
	"token-stream-ledger/internal/idhash"
	"token-stream-ledger/internal/storage"
)

// ErrStreamNotJournaled is returned when no events exist for a stream.
var ErrStreamNotJournaled = errors.New("stream not found in journal")

// JournalVerifier implements Verifier over a storage.EventStore.
type JournalVerifier struct {
	journal storage.EventStore
	state   State // optional
}

// NewJournalVerifier creates a verifier. state may be nil to check the
// journal on its own.
func NewJournalVerifier(journal storage.EventStore, state State) *JournalVerifier {
	return &JournalVerifier{journal: journal, state: state}
}

// VerifyStream replays the events of one stream.
func (v *JournalVerifier) VerifyStream(ctx context.Context, streamID uint64) (*StreamResult, error) {
	evs, err := v.journal.GetByStreamID(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("load stream events: %w", err)
	}
	if len(evs) == 0 {
		return nil, ErrStreamNotJournaled
	}

	result := replayStream(streamID, evs)
	if err := v.checkState(ctx, result); err != nil {
		return nil, err
	}
	result.Match = len(result.Divergences) == 0
	return result, nil
}

// VerifyAll replays the whole journal.
func (v *JournalVerifier) VerifyAll(ctx context.Context) (*Report, error) {
	all, err := v.journal.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}

	byStream := make(map[uint64][]*domain.Event)
	var admin []*domain.Event
	for _, e := range all {
		if e.StreamID == 0 {
			admin = append(admin, e)
			continue
		}
		byStream[e.StreamID] = append(byStream[e.StreamID], e)
	}

	ids := make([]uint64, 0, len(byStream))
	for id := range byStream {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	report := &Report{
		TotalStreams: len(ids),
		Results:      make([]StreamResult, 0, len(ids)),
		Earnings:     make(map[string]decimal.Decimal),
	}

	for _, id := range ids {
		result := replayStream(id, byStream[id])
		if err := v.checkState(ctx, result); err != nil {
			return nil, err
		}
		result.Match = len(result.Divergences) == 0

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedStreams++
		} else {
			report.DivergentStreams++
		}
	}

	for _, e := range all {
		switch e.Kind {
		case domain.EventInterestPaid:
			report.Earnings[e.Token] = report.Earnings[e.Token].Add(e.OperatorInterest)
		case domain.EventEarningsTaken:
			report.Earnings[e.Token] = report.Earnings[e.Token].Sub(e.Amount)
		}
	}
	for i, e := range admin {
		if want := idhash.ComputeEventID(e.OpID, e.Seq, e.Kind, 0); want != e.EventID {
			report.EarningsDivergences = append(report.EarningsDivergences, Divergence{
				Check: "event_id", Seq: i, Expected: want, Actual: e.EventID,
			})
		}
	}
	if err := v.checkEarnings(ctx, report); err != nil {
		return nil, err
	}

	return report, nil
}

// replayStream folds the history of one stream.
func replayStream(streamID uint64, evs []*domain.Event) *StreamResult {
	r := &StreamResult{
		StreamID:  streamID,
		Events:    len(evs),
		Withdrawn: decimal.Zero,
		Refunded:  decimal.Zero,
		Settled:   decimal.Zero,
		Remaining: decimal.Zero,
		Interest:  decimal.Zero,
	}
	fail := func(check string, seq int, expected, actual interface{}) {
		r.Divergences = append(r.Divergences, Divergence{Check: check, Seq: seq, Expected: expected, Actual: actual})
	}

	opened := false
	var lastTime int64
	for i, e := range evs {
		if want := idhash.ComputeEventID(e.OpID, e.Seq, e.Kind, e.StreamID); want != e.EventID {
			fail("event_id", i, want, e.EventID)
		}
		if i > 0 && e.Time < lastTime {
			fail("time order", i, fmt.Sprintf(">= %d", lastTime), e.Time)
		}
		lastTime = e.Time

		if r.Closed {
			fail("event after close", i, "none", string(e.Kind))
			continue
		}
		if !opened && e.Kind != domain.EventStreamCreated {
			fail("first event", i, string(domain.EventStreamCreated), string(e.Kind))
			continue
		}

		switch e.Kind {
		case domain.EventStreamCreated:
			if opened {
				fail("duplicate create", i, "none", string(e.Kind))
				continue
			}
			opened = true
			r.Token = e.Token
			r.Deposit = e.Deposit
			r.Remaining = e.Deposit
			if !e.Deposit.IsPositive() {
				fail("deposit positive", i, "> 0", e.Deposit.String())
			}

		case domain.EventCompoundingStreamCreated:
			r.Compounding = true
			if int(e.SenderShare)+int(e.RecipientShare) != 100 {
				fail("shares sum", i, 100, int(e.SenderShare)+int(e.RecipientShare))
			}

		case domain.EventInterestPaid:
			if !r.Compounding {
				fail("interest on base stream", i, "compounding", "base")
			}
			sum := e.SenderInterest.Add(e.RecipientInterest).Add(e.OperatorInterest)
			if !sum.Equal(e.Growth) {
				fail("interest split", i, e.Growth.String(), sum.String())
			}
			if !e.Growth.IsPositive() {
				fail("interest growth positive", i, "> 0", e.Growth.String())
			}
			r.Interest = r.Interest.Add(e.Growth)

		case domain.EventWithdraw:
			if !e.Amount.IsPositive() || e.Amount.GreaterThan(r.Remaining) {
				fail("withdraw amount", i, fmt.Sprintf("(0, %s]", r.Remaining), e.Amount.String())
			}
			r.Withdrawn = r.Withdrawn.Add(e.Amount)
			r.Remaining = r.Remaining.Sub(e.Amount)
			if r.Remaining.IsZero() {
				r.Closed = true
			}

		case domain.EventCancel:
			paid := e.SenderAmount.Add(e.RecipientAmount)
			if !paid.Equal(r.Remaining) {
				fail("cancel split", i, r.Remaining.String(), paid.String())
			}
			r.Refunded = r.Refunded.Add(e.SenderAmount)
			r.Settled = r.Settled.Add(e.RecipientAmount)
			r.Remaining = decimal.Zero
			r.Closed = true

		default:
			fail("event kind", i, "stream event", string(e.Kind))
		}
	}

	accounted := r.Withdrawn.Add(r.Refunded).Add(r.Settled).Add(r.Remaining)
	if opened && !accounted.Equal(r.Deposit) {
		fail("conservation", -1, r.Deposit.String(), accounted.String())
	}
	return r
}

// checkState compares the replayed stream with the live ledger.
func (v *JournalVerifier) checkState(ctx context.Context, r *StreamResult) error {
	if v.state == nil {
		return nil
	}
	s, err := v.state.GetStream(ctx, r.StreamID)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		if !r.Closed {
			r.Divergences = append(r.Divergences, Divergence{Check: "state", Seq: -1, Expected: "open", Actual: "missing"})
		}
		return nil
	case err != nil:
		return fmt.Errorf("load stream %d: %w", r.StreamID, err)
	}

	if r.Closed {
		r.Divergences = append(r.Divergences, Divergence{Check: "state", Seq: -1, Expected: "closed", Actual: "open"})
		return nil
	}
	if !s.RemainingBalance.Equal(r.Remaining) {
		r.Divergences = append(r.Divergences, Divergence{
			Check: "remaining balance", Seq: -1, Expected: r.Remaining.String(), Actual: s.RemainingBalance.String(),
		})
	}
	if !s.Deposit.Equal(r.Deposit) {
		r.Divergences = append(r.Divergences, Divergence{
			Check: "deposit", Seq: -1, Expected: r.Deposit.String(), Actual: s.Deposit.String(),
		})
	}
	return nil
}

func (v *JournalVerifier) checkEarnings(ctx context.Context, report *Report) error {
	tokens := make([]string, 0, len(report.Earnings))
	for t := range report.Earnings {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	for _, t := range tokens {
		journal := report.Earnings[t]
		if journal.IsNegative() {
			report.EarningsDivergences = append(report.EarningsDivergences, Divergence{
				Check: "earnings " + t, Seq: -1, Expected: ">= 0", Actual: journal.String(),
			})
		}
		if v.state == nil {
			continue
		}
		live, err := v.state.Earnings(ctx, t)
		if err != nil {
			return fmt.Errorf("load earnings %s: %w", t, err)
		}
		if !live.Equal(journal) {
			report.EarningsDivergences = append(report.EarningsDivergences, Divergence{
				Check: "earnings " + t, Seq: -1, Expected: journal.String(), Actual: live.String(),
			})
		}
	}
	return nil
}

var _ Verifier = (*JournalVerifier)(nil)
