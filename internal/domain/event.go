package domain

import "github.com/shopspring/decimal"

// EventKind identifies an emitted ledger event.
type EventKind string

// Event kinds.
const (
	EventStreamCreated            EventKind = "STREAM_CREATED"
	EventCompoundingStreamCreated EventKind = "COMPOUNDING_STREAM_CREATED"
	EventWithdraw                 EventKind = "WITHDRAW"
	EventCancel                   EventKind = "CANCEL"
	EventInterestPaid             EventKind = "INTEREST_PAID"
	EventTokenWhitelisted         EventKind = "TOKEN_WHITELISTED"
	EventTokenDiscarded           EventKind = "TOKEN_DISCARDED"
	EventFeeUpdated               EventKind = "FEE_UPDATED"
	EventEarningsTaken            EventKind = "EARNINGS_TAKEN"
)

// Event is a flat record of everything an operation emitted.
// Only the fields relevant to Kind are populated; the rest stay zero.
type Event struct {
	EventID  string    // deterministic hash, see idhash.ComputeEventID
	OpID     string    // operation that produced the event
	Seq      int       // position within the operation
	Kind     EventKind // event type
	Time     int64     // engine clock when the operation ran
	StreamID uint64    // 0 for admin events
	Token    string    // token identifier, if any

	Sender    Address
	Recipient Address
	StartTime int64
	StopTime  int64

	Deposit         decimal.Decimal // STREAM_CREATED
	Amount          decimal.Decimal // WITHDRAW, EARNINGS_TAKEN, INTEREST_PAID trigger amount
	SenderAmount    decimal.Decimal // CANCEL
	RecipientAmount decimal.Decimal // CANCEL

	Growth            decimal.Decimal // INTEREST_PAID, total realized
	SenderInterest    decimal.Decimal
	RecipientInterest decimal.Decimal
	OperatorInterest  decimal.Decimal

	SenderShare    uint8 // COMPOUNDING_STREAM_CREATED
	RecipientShare uint8
	FeePercent     uint8 // FEE_UPDATED
}
