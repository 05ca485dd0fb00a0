package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/ratecalc"
	"token-stream-ledger/internal/storage"
)

// WithdrawResult describes a committed withdrawal.
type WithdrawResult struct {
	StreamID uint64
	Amount   decimal.Decimal
	Interest domain.InterestSplit // zero for base streams
	Settled  bool                 // the stream was fully paid out and removed
}

// Withdraw pays amount of unlocked principal to the recipient. On a
// compounding stream the accrued interest is realized first.
func (e *Engine) Withdraw(ctx context.Context, id uint64, caller domain.Address, amt decimal.Decimal) (*WithdrawResult, error) {
	var res *WithdrawResult
	err := e.run(ctx, "withdraw", func(o *op) error {
		s, err := o.loadStream(id)
		if err != nil {
			return err
		}
		if caller != s.Recipient {
			return ErrNotRecipient
		}
		if err := validAmount(amt); err != nil {
			return err
		}
		if amt.IsZero() {
			return ErrZeroAmount
		}
		if amt.GreaterThan(ratecalc.RecipientWithdrawable(s, o.now)) {
			return ErrInsufficientWithdrawableBalance
		}

		var interest domain.InterestSplit
		if s.IsCompounding {
			if interest, err = o.realizeInterest(s, amt); err != nil {
				return err
			}
		}

		s.RemainingBalance = s.RemainingBalance.Sub(amt)
		l, err := o.ledger(s.Token)
		if err != nil {
			return err
		}
		if err := o.payout(l, s.Recipient, amt); err != nil {
			return err
		}
		settled, err := o.deleteIfSettled(s)
		if err != nil {
			return err
		}

		o.emit(domain.Event{
			Kind:      domain.EventWithdraw,
			StreamID:  s.ID,
			Token:     s.Token,
			Recipient: s.Recipient,
			Amount:    amt,
		})
		res = &WithdrawResult{StreamID: s.ID, Amount: amt, Interest: interest, Settled: settled}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CancelResult describes a committed cancellation.
type CancelResult struct {
	StreamID        uint64
	SenderAmount    decimal.Decimal
	RecipientAmount decimal.Decimal
	Interest        domain.InterestSplit // zero for base streams
}

// Cancel settles the stream pro rata at the current time and removes it.
// Either participant may cancel. Outstanding interest is realized before the
// principal split, so the split covers principal only.
func (e *Engine) Cancel(ctx context.Context, id uint64, caller domain.Address) (*CancelResult, error) {
	var res *CancelResult
	err := e.run(ctx, "cancel", func(o *op) error {
		s, err := o.loadStream(id)
		if err != nil {
			return err
		}
		if err := requireParticipant(s, caller); err != nil {
			return err
		}

		var interest domain.InterestSplit
		if s.IsCompounding {
			if interest, err = o.realizeInterest(s, s.RemainingBalance); err != nil {
				return err
			}
		}

		senderAmt, recipientAmt := ratecalc.Split(s, o.now)

		l, err := o.ledger(s.Token)
		if err != nil {
			return err
		}
		if err := o.payout(l, s.Recipient, recipientAmt); err != nil {
			return err
		}
		if err := o.payout(l, s.Sender, senderAmt); err != nil {
			return err
		}
		if err := o.destroy(s); err != nil {
			return err
		}

		o.emit(domain.Event{
			Kind:            domain.EventCancel,
			StreamID:        s.ID,
			Token:           s.Token,
			Sender:          s.Sender,
			Recipient:       s.Recipient,
			SenderAmount:    senderAmt,
			RecipientAmount: recipientAmt,
		})
		res = &CancelResult{
			StreamID:        s.ID,
			SenderAmount:    senderAmt,
			RecipientAmount: recipientAmt,
			Interest:        interest,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RecipientWithdrawable returns what the recipient could withdraw at time at.
func (e *Engine) RecipientWithdrawable(ctx context.Context, id uint64, at int64) (decimal.Decimal, error) {
	_, recipient, err := e.Balances(ctx, id, at)
	return recipient, err
}

// SenderRefundable returns what the sender would receive on cancel at time at.
func (e *Engine) SenderRefundable(ctx context.Context, id uint64, at int64) (decimal.Decimal, error) {
	sender, _, err := e.Balances(ctx, id, at)
	return sender, err
}

// Balances returns (senderRefundable, recipientWithdrawable) at time at.
// The two sum to the stream's remaining balance. Nothing is settled.
func (e *Engine) Balances(ctx context.Context, id uint64, at int64) (decimal.Decimal, decimal.Decimal, error) {
	var sender, recipient decimal.Decimal
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		s, err := getStream(ctx, tx, id)
		if err != nil {
			return err
		}
		sender, recipient = ratecalc.Split(s, at)
		return nil
	})
	return sender, recipient, err
}
