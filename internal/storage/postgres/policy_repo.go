package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
	"token-stream-ledger/internal/token"
)

// policyRepo implements storage.PolicyRepo.
type policyRepo struct {
	tx *tx
}

// GetFeePolicy returns the current policy (zero fee if the row is missing).
func (r *policyRepo) GetFeePolicy(ctx context.Context) (*domain.FeePolicy, error) {
	var fee int16
	err := r.tx.q.QueryRow(ctx, `SELECT fee_percent FROM fee_policy WHERE id = 1`).Scan(&fee)
	if err != nil {
		if isNotFoundError(err) {
			return &domain.FeePolicy{}, nil
		}
		return nil, fmt.Errorf("get fee policy: %w", err)
	}
	return &domain.FeePolicy{FeePercent: uint8(fee)}, nil
}

// SetFeePercent stores a new fee.
func (r *policyRepo) SetFeePercent(ctx context.Context, percent uint8) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if percent > domain.MaxFeePercent {
		return storage.ErrInvalidInput
	}
	_, err := r.tx.q.Exec(ctx, `
		INSERT INTO fee_policy (id, fee_percent, updated_at) VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET fee_percent = EXCLUDED.fee_percent, updated_at = NOW()
	`, int16(percent))
	if err != nil {
		return fmt.Errorf("set fee percent: %w", err)
	}
	return nil
}

// IsWhitelisted reports whether token is eligible for compounding.
func (r *policyRepo) IsWhitelisted(ctx context.Context, tokenID string) (bool, error) {
	var ok bool
	err := r.tx.q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM token_whitelist WHERE token = $1)`, tokenID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return ok, nil
}

// SetWhitelisted adds or removes token from the whitelist.
func (r *policyRepo) SetWhitelisted(ctx context.Context, tokenID string, whitelisted bool) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if tokenID == "" {
		return storage.ErrInvalidInput
	}

	var err error
	if whitelisted {
		_, err = r.tx.q.Exec(ctx,
			`INSERT INTO token_whitelist (token) VALUES ($1) ON CONFLICT (token) DO NOTHING`, tokenID)
	} else {
		_, err = r.tx.q.Exec(ctx, `DELETE FROM token_whitelist WHERE token = $1`, tokenID)
	}
	if err != nil {
		return fmt.Errorf("set whitelisted: %w", err)
	}
	return nil
}

// ListWhitelisted returns whitelisted tokens sorted by id.
func (r *policyRepo) ListWhitelisted(ctx context.Context) ([]string, error) {
	rows, err := r.tx.q.Query(ctx, `SELECT token FROM token_whitelist ORDER BY token ASC`)
	if err != nil {
		return nil, fmt.Errorf("list whitelist: %w", err)
	}
	defer rows.Close()

	result := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan whitelist: %w", err)
		}
		result = append(result, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate whitelist: %w", err)
	}
	return result, nil
}

// Earnings returns accumulated operator earnings for token.
func (r *policyRepo) Earnings(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var amount string
	err := r.tx.q.QueryRow(ctx,
		`SELECT amount::text FROM operator_earnings WHERE token = $1`, tokenID,
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get earnings: %w", err)
	}
	return parseNumeric(amount)
}

// SetEarnings overwrites accumulated operator earnings for token.
func (r *policyRepo) SetEarnings(ctx context.Context, tokenID string, amount decimal.Decimal) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if tokenID == "" || !token.ValidAmount(amount) {
		return storage.ErrInvalidInput
	}
	_, err := r.tx.q.Exec(ctx, `
		INSERT INTO operator_earnings (token, amount) VALUES ($1, $2::numeric)
		ON CONFLICT (token) DO UPDATE SET amount = EXCLUDED.amount
	`, tokenID, numericArg(amount))
	if err != nil {
		return fmt.Errorf("set earnings: %w", err)
	}
	return nil
}

var _ storage.PolicyRepo = (*policyRepo)(nil)
