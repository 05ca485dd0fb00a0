// Package token defines the fungible-token ledger the engine moves value through.
//
// A Ledger is obtained from the active storage transaction, so every transfer
// commits or rolls back together with the stream records it accompanies.
// A transfer either returns nil (it happened) or an error (it did not); there
// is no partial outcome.
package token

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
)

var (
	// ErrInsufficientBalance is returned when the source balance is too low.
	ErrInsufficientBalance = errors.New("insufficient token balance")

	// ErrInsufficientAllowance is returned when the spender's allowance is too low.
	ErrInsufficientAllowance = errors.New("insufficient token allowance")

	// ErrInvalidAmount is returned for negative or fractional amounts.
	ErrInvalidAmount = errors.New("invalid token amount")
)

// Ledger exposes transfer/approve/balance semantics for one token.
type Ledger interface {
	// ID returns the token identifier.
	ID() string

	// Transfer moves amount from one holder to another.
	Transfer(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error

	// TransferFrom moves amount from owner to to, consuming spender's allowance.
	TransferFrom(ctx context.Context, spender, owner, to domain.Address, amount decimal.Decimal) error

	// Approve sets spender's allowance over owner's balance.
	Approve(ctx context.Context, owner, spender domain.Address, amount decimal.Decimal) error

	// BalanceOf returns the balance of holder.
	BalanceOf(ctx context.Context, holder domain.Address) (decimal.Decimal, error)

	// Allowance returns what spender may still pull from owner.
	Allowance(ctx context.Context, owner, spender domain.Address) (decimal.Decimal, error)
}

// ValidAmount reports whether amount can be moved by a ledger.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsInteger() && !amount.IsNegative()
}
