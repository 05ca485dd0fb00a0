package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/amount"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
	"token-stream-ledger/internal/token"
)

// CompoundingParams are the arguments of a new compounding stream.
type CompoundingParams struct {
	CreateParams
	SenderSharePercent    uint8
	RecipientSharePercent uint8
}

// CreateCompounding opens a stream denominated in a whitelisted wrapped token
// and snapshots its current exchange rate.
func (e *Engine) CreateCompounding(ctx context.Context, p CompoundingParams) (uint64, error) {
	var id uint64
	err := e.run(ctx, "create_compounding", func(o *op) error {
		ok, err := o.tx.Policy().IsWhitelisted(o.ctx, p.Token)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTokenNotWhitelisted
		}
		if int(p.SenderSharePercent)+int(p.RecipientSharePercent) != 100 {
			return ErrSharesInvalid
		}

		rate, err := o.e.exchangeRate(o.ctx, p.Token)
		if err != nil {
			return err
		}

		s, err := o.createStream(p.CreateParams, true)
		if err != nil {
			return err
		}

		meta := &domain.CompoundingMeta{
			StreamID:              s.ID,
			ExchangeRateSnapshot:  rate,
			SenderSharePercent:    p.SenderSharePercent,
			RecipientSharePercent: p.RecipientSharePercent,
		}
		if err := o.tx.Compounding().Insert(o.ctx, meta); err != nil {
			return fmt.Errorf("insert compounding meta: %w", err)
		}

		o.emit(domain.Event{
			Kind:           domain.EventCompoundingStreamCreated,
			StreamID:       s.ID,
			Token:          s.Token,
			SenderShare:    p.SenderSharePercent,
			RecipientShare: p.RecipientSharePercent,
		})
		id = s.ID
		return nil
	})
	return id, err
}

// ComputeInterest splits the growth of remaining since snapshot.
//
// Rounding order: growth = remaining*(current-snapshot)/snapshot truncated;
// operator = growth*fee/100 truncated; sender = (growth-operator)*senderShare/100
// truncated; the recipient takes what is left. The three parts always sum to
// growth exactly, so truncation dust goes to the recipient.
func ComputeInterest(remaining, snapshot, current decimal.Decimal, feePercent, senderShare uint8) domain.InterestSplit {
	if !snapshot.IsPositive() || !current.GreaterThan(snapshot) {
		return domain.InterestSplit{}
	}
	return SplitGrowth(amount.MulDiv(remaining, current.Sub(snapshot), snapshot), feePercent, senderShare)
}

// SplitGrowth divides growth between operator, sender and recipient in the
// rounding order of ComputeInterest.
func SplitGrowth(growth decimal.Decimal, feePercent, senderShare uint8) domain.InterestSplit {
	if !growth.IsPositive() {
		return domain.InterestSplit{}
	}

	operator := amount.Percent(growth, feePercent)
	residual := growth.Sub(operator)
	sender := amount.Percent(residual, senderShare)

	return domain.InterestSplit{
		Growth:            growth,
		SenderInterest:    sender,
		RecipientInterest: residual.Sub(sender),
		OperatorInterest:  operator,
	}
}

// CapGrowth limits a realization to what the vault actually holds beyond
// principal and earnings. It returns the split to pay and the snapshot to
// store: the current rate when the growth is fully backed, otherwise the rate
// at which the paid part would have accrued, so the unbacked rest stays owed.
func CapGrowth(split domain.InterestSplit, surplus, remaining, snapshot, current decimal.Decimal, feePercent, senderShare uint8) (domain.InterestSplit, decimal.Decimal) {
	if split.Growth.LessThanOrEqual(surplus) {
		return split, current
	}
	if !surplus.IsPositive() || !remaining.IsPositive() {
		return domain.InterestSplit{}, snapshot
	}
	return SplitGrowth(surplus, feePercent, senderShare),
		snapshot.Add(amount.MulDiv(surplus, snapshot, remaining))
}

// realizeInterest distributes the interest accrued on s since the last
// snapshot. contextAmount is the principal amount of the triggering operation.
// Payouts never exceed the vault surplus, so one stream's interest cannot be
// paid out of another stream's principal. When nothing is payable the snapshot
// is kept and no event is emitted.
func (o *op) realizeInterest(s *domain.Stream, contextAmount decimal.Decimal) (domain.InterestSplit, error) {
	meta, err := o.tx.Compounding().Get(o.ctx, s.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.InterestSplit{}, fmt.Errorf("%w: %d", ErrCompoundingNotFound, s.ID)
	}
	if err != nil {
		return domain.InterestSplit{}, err
	}

	rate, err := o.e.exchangeRate(o.ctx, s.Token)
	if err != nil {
		return domain.InterestSplit{}, err
	}
	policy, err := o.tx.Policy().GetFeePolicy(o.ctx)
	if err != nil {
		return domain.InterestSplit{}, err
	}

	split := ComputeInterest(s.RemainingBalance, meta.ExchangeRateSnapshot, rate,
		policy.FeePercent, meta.SenderSharePercent)
	if split.IsZero() {
		return split, nil
	}

	l, err := o.ledger(s.Token)
	if err != nil {
		return domain.InterestSplit{}, err
	}
	earned, err := o.tx.Policy().Earnings(o.ctx, s.Token)
	if err != nil {
		return domain.InterestSplit{}, err
	}
	surplus, err := o.vaultSurplus(l, s.Token, earned)
	if err != nil {
		return domain.InterestSplit{}, err
	}

	accrued := split.Growth
	split, snapshot := CapGrowth(split, surplus, s.RemainingBalance, meta.ExchangeRateSnapshot, rate,
		policy.FeePercent, meta.SenderSharePercent)
	if !split.Growth.Equal(accrued) {
		o.e.logger.Printf("[engine] stream %d: interest %s capped to vault surplus %s", s.ID, accrued, surplus)
	}
	if split.IsZero() {
		return split, nil
	}

	if split.OperatorInterest.IsPositive() {
		if err := o.tx.Policy().SetEarnings(o.ctx, s.Token, earned.Add(split.OperatorInterest)); err != nil {
			return domain.InterestSplit{}, fmt.Errorf("credit earnings: %w", err)
		}
	}

	if err := o.payout(l, s.Sender, split.SenderInterest); err != nil {
		return domain.InterestSplit{}, err
	}
	if err := o.payout(l, s.Recipient, split.RecipientInterest); err != nil {
		return domain.InterestSplit{}, err
	}

	meta.ExchangeRateSnapshot = snapshot
	if err := o.tx.Compounding().Update(o.ctx, meta); err != nil {
		return domain.InterestSplit{}, fmt.Errorf("update snapshot: %w", err)
	}

	o.emit(domain.Event{
		Kind:              domain.EventInterestPaid,
		StreamID:          s.ID,
		Token:             s.Token,
		Sender:            s.Sender,
		Recipient:         s.Recipient,
		Amount:            contextAmount,
		Growth:            split.Growth,
		SenderInterest:    split.SenderInterest,
		RecipientInterest: split.RecipientInterest,
		OperatorInterest:  split.OperatorInterest,
	})
	o.after(func() {
		o.e.metrics.RecordInterest(s.Token, "sender", split.SenderInterest)
		o.e.metrics.RecordInterest(s.Token, "recipient", split.RecipientInterest)
		o.e.metrics.RecordInterest(s.Token, "operator", split.OperatorInterest)
	})
	return split, nil
}

// vaultSurplus is the vault balance of tokenID that backs neither live
// principal nor operator earnings. Never negative.
func (o *op) vaultSurplus(l token.Ledger, tokenID string, earned decimal.Decimal) (decimal.Decimal, error) {
	held, err := l.BalanceOf(o.ctx, o.e.vault)
	if err != nil {
		return decimal.Zero, fmt.Errorf("vault balance: %w", err)
	}
	owed, err := o.tx.Streams().TotalRemaining(o.ctx, tokenID)
	if err != nil {
		return decimal.Zero, err
	}
	return amount.ClampZero(held.Sub(owed).Sub(earned)), nil
}

// RealizeInterest distributes accrued interest without touching principal.
// Either participant may call it.
func (e *Engine) RealizeInterest(ctx context.Context, id uint64, caller domain.Address) (domain.InterestSplit, error) {
	var split domain.InterestSplit
	err := e.run(ctx, "realize_interest", func(o *op) error {
		s, err := o.loadStream(id)
		if err != nil {
			return err
		}
		if err := requireParticipant(s, caller); err != nil {
			return err
		}
		if !s.IsCompounding {
			return ErrNotCompounding
		}
		split, err = o.realizeInterest(s, decimal.Zero)
		return err
	})
	return split, err
}

// GetCompoundingMeta returns the compounding parameters of a stream.
func (e *Engine) GetCompoundingMeta(ctx context.Context, id uint64) (*domain.CompoundingMeta, error) {
	var meta *domain.CompoundingMeta
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		if _, err := getStream(ctx, tx, id); err != nil {
			return err
		}
		m, err := tx.Compounding().Get(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrCompoundingNotFound, id)
		}
		if err != nil {
			return err
		}
		meta = m
		return nil
	})
	return meta, err
}

// TakeEarnings transfers accumulated operator earnings to the admin.
func (e *Engine) TakeEarnings(ctx context.Context, caller domain.Address, tokenID string, amt decimal.Decimal) error {
	return e.run(ctx, "take_earnings", func(o *op) error {
		if err := o.e.requireAdmin(caller); err != nil {
			return err
		}
		if err := validAmount(amt); err != nil {
			return err
		}
		if amt.IsZero() {
			return ErrZeroAmount
		}

		earned, err := o.tx.Policy().Earnings(o.ctx, tokenID)
		if err != nil {
			return err
		}
		if amt.GreaterThan(earned) {
			return ErrExceedsAvailableEarnings
		}

		l, err := o.ledger(tokenID)
		if err != nil {
			return err
		}
		if err := o.payout(l, o.e.admin, amt); err != nil {
			return err
		}
		if err := o.tx.Policy().SetEarnings(o.ctx, tokenID, earned.Sub(amt)); err != nil {
			return fmt.Errorf("debit earnings: %w", err)
		}

		o.emit(domain.Event{
			Kind:   domain.EventEarningsTaken,
			Token:  tokenID,
			Amount: amt,
		})
		return nil
	})
}
