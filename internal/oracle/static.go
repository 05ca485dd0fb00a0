package oracle

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// Static is a settable in-process rate table, used for development and tests.
type Static struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

// NewStatic creates a rate table seeded with rates.
func NewStatic(rates map[string]decimal.Decimal) *Static {
	s := &Static{rates: make(map[string]decimal.Decimal, len(rates))}
	for token, rate := range rates {
		s.rates[token] = rate
	}
	return s
}

// Set replaces the rate of token.
func (s *Static) Set(token string, rate decimal.Decimal) error {
	if err := ValidateRate(rate); err != nil {
		return err
	}
	s.mu.Lock()
	s.rates[token] = rate
	s.mu.Unlock()
	return nil
}

// CurrentExchangeRate implements Source.
func (s *Static) CurrentExchangeRate(_ context.Context, token string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate, ok := s.rates[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return rate, nil
}

var _ Source = (*Static)(nil)
