package domain

import "github.com/shopspring/decimal"

// CompoundingMeta holds the interest-bearing parameters of a compounding stream.
// It lives and dies with its Stream.
type CompoundingMeta struct {
	StreamID uint64

	// ExchangeRateSnapshot is the wrapped-token exchange rate at the last
	// realization point, scaled by oracle.RatePrecision.
	ExchangeRateSnapshot decimal.Decimal

	SenderSharePercent    uint8 // share of post-fee interest paid to the sender
	RecipientSharePercent uint8 // share of post-fee interest paid to the recipient
}

// Clone returns a deep copy.
func (m *CompoundingMeta) Clone() *CompoundingMeta {
	c := *m
	return &c
}

// InterestSplit is the outcome of one interest realization.
type InterestSplit struct {
	Growth            decimal.Decimal // total accrued since the snapshot
	SenderInterest    decimal.Decimal
	RecipientInterest decimal.Decimal
	OperatorInterest  decimal.Decimal
}

// IsZero reports whether nothing was distributed.
func (s InterestSplit) IsZero() bool {
	return s.Growth.IsZero()
}
