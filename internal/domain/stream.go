package domain

import "github.com/shopspring/decimal"

// Stream is a linear release of Deposit from Sender to Recipient over
// [StartTime, StopTime]. Amounts are integral token base units.
type Stream struct {
	ID        uint64  // sequential, never reused
	Sender    Address // funds the stream, receives the refund on cancel
	Recipient Address // receives the unlocked value
	Token     string  // token ledger identifier

	Deposit          decimal.Decimal // total locked at creation
	RatePerUnit      decimal.Decimal // Deposit / (StopTime - StartTime), exact
	RemainingBalance decimal.Decimal // still held by the vault for this stream

	StartTime int64 // unit-time (seconds or block height)
	StopTime  int64
	CreatedAt int64 // engine clock at creation

	IsCompounding bool // CompoundingMeta exists for this stream
}

// Duration returns StopTime - StartTime.
func (s *Stream) Duration() int64 {
	return s.StopTime - s.StartTime
}

// Withdrawn returns the cumulative amount already paid to the recipient.
func (s *Stream) Withdrawn() decimal.Decimal {
	return s.Deposit.Sub(s.RemainingBalance)
}

// IsParticipant reports whether addr is the sender or the recipient.
func (s *Stream) IsParticipant(addr Address) bool {
	return addr == s.Sender || addr == s.Recipient
}

// Clone returns a deep copy.
func (s *Stream) Clone() *Stream {
	c := *s
	return &c
}
