package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
)

// Fee returns the current operator fee percent.
func (e *Engine) Fee(ctx context.Context) (uint8, error) {
	var fee uint8
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		p, err := tx.Policy().GetFeePolicy(ctx)
		if err != nil {
			return err
		}
		fee = p.FeePercent
		return nil
	})
	return fee, err
}

// Earnings returns the operator earnings accumulated for a token.
func (e *Engine) Earnings(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var earned decimal.Decimal
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		earned, err = tx.Policy().Earnings(ctx, tokenID)
		return err
	})
	return earned, err
}

// IsWhitelisted reports whether a token is eligible for compounding.
func (e *Engine) IsWhitelisted(ctx context.Context, tokenID string) (bool, error) {
	var ok bool
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		ok, err = tx.Policy().IsWhitelisted(ctx, tokenID)
		return err
	})
	return ok, err
}

// ListWhitelisted returns the whitelisted tokens sorted by id.
func (e *Engine) ListWhitelisted(ctx context.Context) ([]string, error) {
	var list []string
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		list, err = tx.Policy().ListWhitelisted(ctx)
		return err
	})
	return list, err
}

// Token returns the registry entry of a token.
func (e *Engine) Token(ctx context.Context, tokenID string) (*domain.TokenInfo, error) {
	var info *domain.TokenInfo
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		i, err := tx.Tokens().Get(ctx, tokenID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
		}
		info = i
		return err
	})
	return info, err
}

// BalanceOf returns a holder's token balance.
func (e *Engine) BalanceOf(ctx context.Context, tokenID string, holder domain.Address) (decimal.Decimal, error) {
	var bal decimal.Decimal
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		l, err := ledgerOf(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		bal, err = l.BalanceOf(ctx, holder)
		return err
	})
	return bal, err
}

// Allowance returns how much the vault may still pull from owner.
func (e *Engine) Allowance(ctx context.Context, tokenID string, owner domain.Address) (decimal.Decimal, error) {
	var allowance decimal.Decimal
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		l, err := ledgerOf(ctx, tx, tokenID)
		if err != nil {
			return err
		}
		allowance, err = l.Allowance(ctx, owner, e.vault)
		return err
	})
	return allowance, err
}
