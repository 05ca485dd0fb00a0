package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
	"token-stream-ledger/internal/token"
)

// tokenRegistry implements storage.TokenRegistry.
type tokenRegistry struct {
	tx *tx
}

// Register adds a token. Returns ErrDuplicateKey if the id exists.
func (r *tokenRegistry) Register(ctx context.Context, info *domain.TokenInfo) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if info == nil || info.ID == "" {
		return storage.ErrInvalidInput
	}
	_, err := r.tx.q.Exec(ctx,
		`INSERT INTO tokens (id, symbol, decimals) VALUES ($1, $2, $3)`,
		info.ID, info.Symbol, int16(info.Decimals),
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("register token: %w", err)
	}
	return nil
}

// Get retrieves token info. Returns ErrNotFound if not registered.
func (r *tokenRegistry) Get(ctx context.Context, tokenID string) (*domain.TokenInfo, error) {
	var (
		info     domain.TokenInfo
		decimals int16
	)
	err := r.tx.q.QueryRow(ctx,
		`SELECT id, symbol, decimals FROM tokens WHERE id = $1`, tokenID,
	).Scan(&info.ID, &info.Symbol, &decimals)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	info.Decimals = uint8(decimals)
	return &info, nil
}

// Ledger returns the ledger of a registered token.
func (r *tokenRegistry) Ledger(ctx context.Context, tokenID string) (token.Ledger, error) {
	if _, err := r.Get(ctx, tokenID); err != nil {
		return nil, err
	}
	return &tokenLedger{tx: r.tx, id: tokenID}, nil
}

// Mint credits amount to holder.
func (r *tokenRegistry) Mint(ctx context.Context, tokenID string, to domain.Address, amount decimal.Decimal) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}
	if _, err := r.Get(ctx, tokenID); err != nil {
		return err
	}
	l := &tokenLedger{tx: r.tx, id: tokenID}
	return l.credit(ctx, to, amount)
}

// tokenLedger implements token.Ledger on the token tables inside one transaction.
type tokenLedger struct {
	tx *tx
	id string
}

// ID returns the token identifier.
func (l *tokenLedger) ID() string {
	return l.id
}

// Transfer moves amount from one holder to another.
func (l *tokenLedger) Transfer(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
	if err := l.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}
	return l.move(ctx, from, to, amount)
}

// TransferFrom moves amount from owner to to, consuming spender's allowance.
func (l *tokenLedger) TransferFrom(ctx context.Context, spender, owner, to domain.Address, amount decimal.Decimal) error {
	if err := l.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}

	allowance, err := l.Allowance(ctx, owner, spender)
	if err != nil {
		return err
	}
	if allowance.LessThan(amount) {
		return token.ErrInsufficientAllowance
	}
	if err := l.move(ctx, owner, to, amount); err != nil {
		return err
	}
	return l.Approve(ctx, owner, spender, allowance.Sub(amount))
}

// Approve sets spender's allowance over owner's balance.
func (l *tokenLedger) Approve(ctx context.Context, owner, spender domain.Address, amount decimal.Decimal) error {
	if err := l.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}
	_, err := l.tx.q.Exec(ctx, `
		INSERT INTO token_allowances (token, owner, spender, amount) VALUES ($1, $2, $3, $4::numeric)
		ON CONFLICT (token, owner, spender) DO UPDATE SET amount = EXCLUDED.amount
	`, l.id, string(owner), string(spender), numericArg(amount))
	if err != nil {
		return fmt.Errorf("approve: %w", err)
	}
	return nil
}

// BalanceOf returns the balance of holder.
func (l *tokenLedger) BalanceOf(ctx context.Context, holder domain.Address) (decimal.Decimal, error) {
	var amount string
	err := l.tx.q.QueryRow(ctx,
		`SELECT amount::text FROM token_balances WHERE token = $1 AND holder = $2`,
		l.id, string(holder),
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return parseNumeric(amount)
}

// Allowance returns what spender may still pull from owner.
func (l *tokenLedger) Allowance(ctx context.Context, owner, spender domain.Address) (decimal.Decimal, error) {
	var amount string
	err := l.tx.q.QueryRow(ctx,
		`SELECT amount::text FROM token_allowances WHERE token = $1 AND owner = $2 AND spender = $3`,
		l.id, string(owner), string(spender),
	).Scan(&amount)
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get allowance: %w", err)
	}
	return parseNumeric(amount)
}

// move debits from and credits to. The debit is a guarded UPDATE, so a
// balance never goes negative.
func (l *tokenLedger) move(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
	if amount.IsZero() {
		return nil
	}
	tag, err := l.tx.q.Exec(ctx, `
		UPDATE token_balances SET amount = amount - $3::numeric
		WHERE token = $1 AND holder = $2 AND amount >= $3::numeric
	`, l.id, string(from), numericArg(amount))
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return token.ErrInsufficientBalance
	}
	return l.credit(ctx, to, amount)
}

func (l *tokenLedger) credit(ctx context.Context, to domain.Address, amount decimal.Decimal) error {
	_, err := l.tx.q.Exec(ctx, `
		INSERT INTO token_balances (token, holder, amount) VALUES ($1, $2, $3::numeric)
		ON CONFLICT (token, holder) DO UPDATE SET amount = token_balances.amount + EXCLUDED.amount
	`, l.id, string(to), numericArg(amount))
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

var (
	_ storage.TokenRegistry = (*tokenRegistry)(nil)
	_ token.Ledger          = (*tokenLedger)(nil)
)
