// Package oracle supplies wrapped-token exchange rates to the compounding engine.
//
// Rates are non-negative integers scaled by RatePrecision: a rate of
// 2*RatePrecision means one wrapped unit is worth two underlying units.
package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// RatePrecision is the fixed scale of every exchange rate (10^18).
var RatePrecision = decimal.New(1, 18)

var (
	// ErrUnknownToken is returned when no rate is known for a token.
	ErrUnknownToken = errors.New("unknown token")

	// ErrInvalidRate is returned when a quoted rate is not a positive integer.
	ErrInvalidRate = errors.New("invalid exchange rate")
)

// Source quotes the current exchange rate of a wrapped token.
type Source interface {
	CurrentExchangeRate(ctx context.Context, token string) (decimal.Decimal, error)
}

// ValidateRate checks that rate is a positive integer.
func ValidateRate(rate decimal.Decimal) error {
	if !rate.IsInteger() || !rate.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidRate, rate.String())
	}
	return nil
}

// Chain tries each source in order and returns the first valid quote.
type Chain []Source

// CurrentExchangeRate implements Source.
func (c Chain) CurrentExchangeRate(ctx context.Context, token string) (decimal.Decimal, error) {
	lastErr := fmt.Errorf("%w: %s", ErrUnknownToken, token)
	for _, src := range c {
		rate, err := src.CurrentExchangeRate(ctx, token)
		if err != nil {
			lastErr = err
			continue
		}
		if err := ValidateRate(rate); err != nil {
			lastErr = err
			continue
		}
		return rate, nil
	}
	return decimal.Zero, lastErr
}

var _ Source = Chain(nil)
