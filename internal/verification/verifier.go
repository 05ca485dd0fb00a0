// Package verification replays the event journal and checks it against the
// ledger's accounting rules: every stream's deposit is fully accounted for by
// withdrawals, cancel splits and what is still held, and every interest
// realization splits exactly its growth.
package verification

import (
	"context"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
)

// Divergence represents one failed check.
type Divergence struct {
	Check    string      // what was checked
	Seq      int         // position of the offending event in the stream's history, -1 if none
	Expected interface{} // value required by the accounting rules
	Actual   interface{} // value found in the journal or state
}

// StreamResult contains the result of verifying a single stream.
type StreamResult struct {
	StreamID    uint64
	Match       bool
	Divergences []Divergence

	Token       string
	Compounding bool
	Closed      bool // cancelled or fully withdrawn
	Events      int

	Deposit   decimal.Decimal
	Withdrawn decimal.Decimal // Σ WITHDRAW
	Refunded  decimal.Decimal // CANCEL sender share
	Settled   decimal.Decimal // CANCEL recipient share
	Remaining decimal.Decimal // what the journal says the vault still holds
	Interest  decimal.Decimal // Σ growth realized
}

// Report contains results for a whole journal.
type Report struct {
	TotalStreams     int
	MatchedStreams   int
	DivergentStreams int
	Results          []StreamResult

	// Earnings is Σ operator interest minus Σ EARNINGS_TAKEN per token.
	Earnings            map[string]decimal.Decimal
	EarningsDivergences []Divergence
}

// OK reports whether nothing diverged.
func (r *Report) OK() bool {
	return r.DivergentStreams == 0 && len(r.EarningsDivergences) == 0
}

// Verifier checks journaled streams.
type Verifier interface {
	// VerifyStream replays the events of one stream.
	VerifyStream(ctx context.Context, streamID uint64) (*StreamResult, error)

	// VerifyAll replays the whole journal.
	VerifyAll(ctx context.Context) (*Report, error)
}

// State is the live ledger view the journal is cross-checked against.
// *engine.Engine satisfies it.
type State interface {
	GetStream(ctx context.Context, id uint64) (*domain.Stream, error)
	Earnings(ctx context.Context, tokenID string) (decimal.Decimal, error)
}
