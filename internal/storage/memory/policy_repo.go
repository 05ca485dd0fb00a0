package memory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
	"token-stream-ledger/internal/token"
)

// policyRepo implements storage.PolicyRepo.
type policyRepo struct {
	tx *tx
}

// GetFeePolicy returns the current policy.
func (r *policyRepo) GetFeePolicy(_ context.Context) (*domain.FeePolicy, error) {
	return &domain.FeePolicy{FeePercent: r.tx.st.feePercent}, nil
}

// SetFeePercent stores a new fee.
func (r *policyRepo) SetFeePercent(_ context.Context, percent uint8) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if percent > domain.MaxFeePercent {
		return storage.ErrInvalidInput
	}
	r.tx.st.feePercent = percent
	return nil
}

// IsWhitelisted reports whether token is eligible for compounding.
func (r *policyRepo) IsWhitelisted(_ context.Context, tokenID string) (bool, error) {
	_, ok := r.tx.st.whitelist[tokenID]
	return ok, nil
}

// SetWhitelisted adds or removes token from the whitelist.
func (r *policyRepo) SetWhitelisted(_ context.Context, tokenID string, whitelisted bool) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if tokenID == "" {
		return storage.ErrInvalidInput
	}
	if whitelisted {
		r.tx.st.whitelist[tokenID] = struct{}{}
	} else {
		delete(r.tx.st.whitelist, tokenID)
	}
	return nil
}

// ListWhitelisted returns whitelisted tokens sorted by id.
func (r *policyRepo) ListWhitelisted(_ context.Context) ([]string, error) {
	result := make([]string, 0, len(r.tx.st.whitelist))
	for t := range r.tx.st.whitelist {
		result = append(result, t)
	}
	sort.Strings(result)
	return result, nil
}

// Earnings returns accumulated operator earnings for token.
func (r *policyRepo) Earnings(_ context.Context, tokenID string) (decimal.Decimal, error) {
	return r.tx.st.earnings[tokenID], nil
}

// SetEarnings overwrites accumulated operator earnings for token.
func (r *policyRepo) SetEarnings(_ context.Context, tokenID string, amount decimal.Decimal) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if tokenID == "" || !token.ValidAmount(amount) {
		return storage.ErrInvalidInput
	}
	r.tx.st.earnings[tokenID] = amount
	return nil
}

var _ storage.PolicyRepo = (*policyRepo)(nil)
