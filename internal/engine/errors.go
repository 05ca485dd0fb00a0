package engine

import (
	"errors"
	"fmt"

	"token-stream-ledger/internal/ratecalc"
	"token-stream-ledger/internal/token"
)

// Error categories. Every error returned by the engine matches exactly one of
// these with errors.Is, except ErrOracleUnavailable and storage failures.
var (
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrTokenTransferFailed = errors.New("token transfer failed")
	ErrAlreadyInState      = errors.New("already in requested state")
	ErrNotInState          = errors.New("not in required state")
)

// Not found.
var (
	ErrStreamNotFound      = fmt.Errorf("stream %w", ErrNotFound)
	ErrCompoundingNotFound = fmt.Errorf("compounding stream %w", ErrNotFound)
	ErrTokenNotFound       = fmt.Errorf("token %w", ErrNotFound)
)

// Unauthorized.
var (
	ErrNotParticipant = fmt.Errorf("%w: caller is not the sender or the recipient", ErrUnauthorized)
	ErrNotRecipient   = fmt.Errorf("%w: caller is not the recipient", ErrUnauthorized)
	ErrNotAdmin       = fmt.Errorf("%w: caller is not the admin", ErrUnauthorized)
)

// Invalid argument.
var (
	ErrZeroAmount          = fmt.Errorf("%w: amount is zero", ErrInvalidArgument)
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be a non-negative integer", ErrInvalidArgument)
	ErrInvalidAddress      = fmt.Errorf("%w: malformed address", ErrInvalidArgument)
	ErrInvalidRecipient    = fmt.Errorf("%w: recipient is the sender, the vault or the zero address", ErrInvalidArgument)
	ErrZeroDeposit         = fmt.Errorf("%w: deposit is zero", ErrInvalidArgument)
	ErrStartInPast         = fmt.Errorf("%w: start time is before the current time", ErrInvalidArgument)
	ErrInvalidDuration     = fmt.Errorf("%w: %w", ErrInvalidArgument, ratecalc.ErrInvalidDuration)
	ErrNonDivisibleDeposit = fmt.Errorf("%w: %w", ErrInvalidArgument, ratecalc.ErrNonDivisibleDeposit)
	ErrSharesInvalid       = fmt.Errorf("%w: sender and recipient shares must sum to 100", ErrInvalidArgument)
	ErrInvalidFee          = fmt.Errorf("%w: fee must be at most 100 percent", ErrInvalidArgument)
	ErrTokenNotWhitelisted = fmt.Errorf("%w: token is not whitelisted for compounding", ErrInvalidArgument)
	ErrTokenNotCompatible  = fmt.Errorf("%w: token has no positive exchange rate", ErrInvalidArgument)
	ErrNotCompounding      = fmt.Errorf("%w: stream is not a compounding stream", ErrInvalidArgument)
	ErrInvalidToken        = fmt.Errorf("%w: token id is empty", ErrInvalidArgument)
)

// Insufficient funds.
var (
	ErrInsufficientBalance             = fmt.Errorf("%w: %w", ErrInsufficientFunds, token.ErrInsufficientBalance)
	ErrInsufficientAllowance           = fmt.Errorf("%w: %w", ErrInsufficientFunds, token.ErrInsufficientAllowance)
	ErrInsufficientWithdrawableBalance = fmt.Errorf("%w: amount exceeds the withdrawable balance", ErrInsufficientFunds)
	ErrExceedsAvailableEarnings        = fmt.Errorf("%w: amount exceeds available earnings", ErrInsufficientFunds)
)

// State toggles.
var (
	ErrAlreadyWhitelisted     = fmt.Errorf("%w: token is already whitelisted", ErrAlreadyInState)
	ErrNotWhitelisted         = fmt.Errorf("%w: token is not whitelisted", ErrNotInState)
	ErrTokenAlreadyRegistered = fmt.Errorf("%w: token is already registered", ErrAlreadyInState)
)

// ErrOracleUnavailable is returned when no usable exchange rate can be read.
var ErrOracleUnavailable = errors.New("exchange rate unavailable")

// transferFailed wraps a token ledger failure.
func transferFailed(err error) error {
	return fmt.Errorf("%w: %w", ErrTokenTransferFailed, err)
}

// depositFailed maps a failed deposit pull, keeping the allowance and
// balance failures distinguishable for the caller.
func depositFailed(err error) error {
	switch {
	case errors.Is(err, token.ErrInsufficientAllowance):
		return ErrInsufficientAllowance
	case errors.Is(err, token.ErrInsufficientBalance):
		return ErrInsufficientBalance
	default:
		return transferFailed(err)
	}
}
