// Package ratecalc converts a deposit and a time window into a per-unit rate
// and computes unlocked, withdrawable and refundable balances. All functions
// are pure.
package ratecalc

import (
	"errors"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/amount"
	"token-stream-ledger/internal/domain"
)

var (
	// ErrInvalidDuration is returned when stopTime <= startTime.
	ErrInvalidDuration = errors.New("stop time must be after start time")

	// ErrNonDivisibleDeposit is returned when the deposit is not an exact
	// multiple of the duration.
	ErrNonDivisibleDeposit = errors.New("deposit is not a multiple of the duration")
)

// ComputeRate returns deposit / (stop - start). The division must be exact.
func ComputeRate(deposit decimal.Decimal, startTime, stopTime int64) (decimal.Decimal, error) {
	if stopTime <= startTime {
		return decimal.Zero, ErrInvalidDuration
	}
	duration := decimal.NewFromInt(stopTime - startTime)
	if !amount.Rem(deposit, duration).IsZero() {
		return decimal.Zero, ErrNonDivisibleDeposit
	}
	return amount.Quo(deposit, duration), nil
}

// UnlockedAmount returns the cumulative value released by time alone.
// The start boundary counts as not started, the stop boundary as ended.
func UnlockedAmount(s *domain.Stream, now int64) decimal.Decimal {
	if now <= s.StartTime {
		return decimal.Zero
	}
	if now >= s.StopTime {
		return s.Deposit
	}
	return s.RatePerUnit.Mul(decimal.NewFromInt(now - s.StartTime))
}

// RecipientWithdrawable returns what the recipient may withdraw at now:
// unlocked-to-date minus what was already withdrawn, within [0, remaining].
func RecipientWithdrawable(s *domain.Stream, now int64) decimal.Decimal {
	w := UnlockedAmount(s, now).Sub(s.Withdrawn())
	w = amount.ClampZero(w)
	return amount.Min(w, s.RemainingBalance)
}

// SenderRefundable returns what the sender would get back on cancel at now.
func SenderRefundable(s *domain.Stream, now int64) decimal.Decimal {
	return s.RemainingBalance.Sub(RecipientWithdrawable(s, now))
}

// Split returns (senderShare, recipientShare) at now. The two always sum to
// RemainingBalance exactly.
func Split(s *domain.Stream, now int64) (decimal.Decimal, decimal.Decimal) {
	recipient := RecipientWithdrawable(s, now)
	return s.RemainingBalance.Sub(recipient), recipient
}
