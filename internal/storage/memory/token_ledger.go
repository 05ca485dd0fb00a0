package memory

import (
	"context"

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
func (r *tokenRegistry) Register(_ context.Context, info *domain.TokenInfo) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if info == nil || info.ID == "" {
		return storage.ErrInvalidInput
	}
	if _, exists := r.tx.st.tokens[info.ID]; exists {
		return storage.ErrDuplicateKey
	}
	r.tx.st.tokens[info.ID] = &tokenState{
		info:       *info,
		balances:   make(map[domain.Address]decimal.Decimal),
		allowances: make(map[allowanceKey]decimal.Decimal),
	}
	return nil
}

// Get retrieves token info. Returns ErrNotFound if not registered.
func (r *tokenRegistry) Get(_ context.Context, tokenID string) (*domain.TokenInfo, error) {
	ts, exists := r.tx.st.tokens[tokenID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	info := ts.info
	return &info, nil
}

// Ledger returns the ledger of a registered token.
func (r *tokenRegistry) Ledger(_ context.Context, tokenID string) (token.Ledger, error) {
	ts, exists := r.tx.st.tokens[tokenID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return &tokenLedger{tx: r.tx, ts: ts}, nil
}

// Mint credits amount to holder.
func (r *tokenRegistry) Mint(_ context.Context, tokenID string, to domain.Address, amount decimal.Decimal) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}
	ts, exists := r.tx.st.tokens[tokenID]
	if !exists {
		return storage.ErrNotFound
	}
	ts.balances[to] = ts.balances[to].Add(amount)
	return nil
}

// tokenLedger implements token.Ledger on a tokenState inside one unit.
type tokenLedger struct {
	tx *tx
	ts *tokenState
}

// ID returns the token identifier.
func (l *tokenLedger) ID() string {
	return l.ts.info.ID
}

// Transfer moves amount from one holder to another.
func (l *tokenLedger) Transfer(_ context.Context, from, to domain.Address, amount decimal.Decimal) error {
	if err := l.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}
	return l.move(from, to, amount)
}

// TransferFrom moves amount from owner to to, consuming spender's allowance.
func (l *tokenLedger) TransferFrom(_ context.Context, spender, owner, to domain.Address, amount decimal.Decimal) error {
	if err := l.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}

	key := allowanceKey{owner: owner, spender: spender}
	allowance := l.ts.allowances[key]
	if allowance.LessThan(amount) {
		return token.ErrInsufficientAllowance
	}
	if err := l.move(owner, to, amount); err != nil {
		return err
	}
	l.ts.allowances[key] = allowance.Sub(amount)
	return nil
}

// Approve sets spender's allowance over owner's balance.
func (l *tokenLedger) Approve(_ context.Context, owner, spender domain.Address, amount decimal.Decimal) error {
	if err := l.tx.writable(); err != nil {
		return err
	}
	if !token.ValidAmount(amount) {
		return token.ErrInvalidAmount
	}
	l.ts.allowances[allowanceKey{owner: owner, spender: spender}] = amount
	return nil
}

// BalanceOf returns the balance of holder.
func (l *tokenLedger) BalanceOf(_ context.Context, holder domain.Address) (decimal.Decimal, error) {
	return l.ts.balances[holder], nil
}

// Allowance returns what spender may still pull from owner.
func (l *tokenLedger) Allowance(_ context.Context, owner, spender domain.Address) (decimal.Decimal, error) {
	return l.ts.allowances[allowanceKey{owner: owner, spender: spender}], nil
}

func (l *tokenLedger) move(from, to domain.Address, amount decimal.Decimal) error {
	balance := l.ts.balances[from]
	if balance.LessThan(amount) {
		return token.ErrInsufficientBalance
	}
	l.ts.balances[from] = balance.Sub(amount)
	l.ts.balances[to] = l.ts.balances[to].Add(amount)
	return nil
}

var (
	_ storage.TokenRegistry = (*tokenRegistry)(nil)
	_ token.Ledger          = (*tokenLedger)(nil)
)
