package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/address"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
)

// UpdateFee sets the operator's share of accrued interest.
func (e *Engine) UpdateFee(ctx context.Context, caller domain.Address, percent uint8) error {
	return e.run(ctx, "update_fee", func(o *op) error {
		if err := o.e.requireAdmin(caller); err != nil {
			return err
		}
		if percent > domain.MaxFeePercent {
			return ErrInvalidFee
		}
		if err := o.tx.Policy().SetFeePercent(o.ctx, percent); err != nil {
			return fmt.Errorf("set fee: %w", err)
		}
		o.emit(domain.Event{Kind: domain.EventFeeUpdated, FeePercent: percent})
		return nil
	})
}

// WhitelistToken makes a wrapped token eligible for compounding streams.
// The token must be registered and the oracle must quote a positive rate.
func (e *Engine) WhitelistToken(ctx context.Context, caller domain.Address, tokenID string) error {
	return e.run(ctx, "whitelist_token", func(o *op) error {
		if err := o.e.requireAdmin(caller); err != nil {
			return err
		}
		ok, err := o.tx.Policy().IsWhitelisted(o.ctx, tokenID)
		if err != nil {
			return err
		}
		if ok {
			return ErrAlreadyWhitelisted
		}

		if _, err := o.tx.Tokens().Get(o.ctx, tokenID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
			}
			return err
		}
		if _, err := o.e.exchangeRate(o.ctx, tokenID); err != nil {
			return fmt.Errorf("%w: %w", ErrTokenNotCompatible, err)
		}

		if err := o.tx.Policy().SetWhitelisted(o.ctx, tokenID, true); err != nil {
			return fmt.Errorf("whitelist: %w", err)
		}
		o.emit(domain.Event{Kind: domain.EventTokenWhitelisted, Token: tokenID})
		return nil
	})
}

// DiscardToken removes a wrapped token from the whitelist. Existing
// compounding streams keep accruing.
func (e *Engine) DiscardToken(ctx context.Context, caller domain.Address, tokenID string) error {
	return e.run(ctx, "discard_token", func(o *op) error {
		if err := o.e.requireAdmin(caller); err != nil {
			return err
		}
		ok, err := o.tx.Policy().IsWhitelisted(o.ctx, tokenID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotWhitelisted
		}
		if err := o.tx.Policy().SetWhitelisted(o.ctx, tokenID, false); err != nil {
			return fmt.Errorf("discard: %w", err)
		}
		o.emit(domain.Event{Kind: domain.EventTokenDiscarded, Token: tokenID})
		return nil
	})
}

// RegisterToken adds a token ledger to the registry.
func (e *Engine) RegisterToken(ctx context.Context, caller domain.Address, info domain.TokenInfo) error {
	return e.run(ctx, "register_token", func(o *op) error {
		if err := o.e.requireAdmin(caller); err != nil {
			return err
		}
		if info.ID == "" {
			return ErrInvalidToken
		}
		err := o.tx.Tokens().Register(o.ctx, &info)
		if errors.Is(err, storage.ErrDuplicateKey) {
			return ErrTokenAlreadyRegistered
		}
		return err
	})
}

// Mint credits new tokens to a holder. Admin only; used to fund accounts.
func (e *Engine) Mint(ctx context.Context, caller domain.Address, tokenID string, to domain.Address, amt decimal.Decimal) error {
	return e.run(ctx, "mint", func(o *op) error {
		if err := o.e.requireAdmin(caller); err != nil {
			return err
		}
		if err := address.Validate(to); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		if err := validAmount(amt); err != nil {
			return err
		}
		if amt.IsZero() {
			return ErrZeroAmount
		}
		err := o.tx.Tokens().Mint(o.ctx, tokenID, to, amt)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
		}
		return err
	})
}

// Approve sets how much of owner's balance the vault may pull for deposits.
func (e *Engine) Approve(ctx context.Context, owner domain.Address, tokenID string, amt decimal.Decimal) error {
	return e.run(ctx, "approve", func(o *op) error {
		if err := validAmount(amt); err != nil {
			return err
		}
		l, err := o.ledger(tokenID)
		if err != nil {
			return err
		}
		if err := l.Approve(o.ctx, owner, o.e.vault, amt); err != nil {
			return transferFailed(err)
		}
		return nil
	})
}
