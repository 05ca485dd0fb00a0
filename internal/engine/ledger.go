package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/address"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/ratecalc"
	"token-stream-ledger/internal/storage"
)

// CreateParams are the arguments of a new stream. Sender is the caller and
// must have approved the vault for at least Deposit.
type CreateParams struct {
	Sender    domain.Address
	Recipient domain.Address
	Deposit   decimal.Decimal
	Token     string
	StartTime int64
	StopTime  int64
}

// Create opens a stream and pulls the deposit into the vault.
func (e *Engine) Create(ctx context.Context, p CreateParams) (uint64, error) {
	var id uint64
	err := e.run(ctx, "create", func(o *op) error {
		s, err := o.createStream(p, false)
		if err != nil {
			return err
		}
		id = s.ID
		return nil
	})
	return id, err
}

// validateCreate checks every argument that does not need storage.
func (e *Engine) validateCreate(p CreateParams, now int64) (decimal.Decimal, error) {
	if err := address.Validate(p.Sender); err != nil {
		return decimal.Zero, fmt.Errorf("%w: sender: %w", ErrInvalidAddress, err)
	}
	if err := address.Validate(p.Recipient); err != nil {
		return decimal.Zero, fmt.Errorf("%w: recipient: %w", ErrInvalidAddress, err)
	}
	if p.Recipient == p.Sender || p.Recipient == e.vault || address.IsZero(p.Recipient) {
		return decimal.Zero, ErrInvalidRecipient
	}
	if err := validAmount(p.Deposit); err != nil {
		return decimal.Zero, err
	}
	if p.Deposit.IsZero() {
		return decimal.Zero, ErrZeroDeposit
	}
	if p.Token == "" {
		return decimal.Zero, ErrInvalidToken
	}
	if p.StartTime < now {
		return decimal.Zero, ErrStartInPast
	}

	rate, err := ratecalc.ComputeRate(p.Deposit, p.StartTime, p.StopTime)
	switch {
	case errors.Is(err, ratecalc.ErrInvalidDuration):
		return decimal.Zero, ErrInvalidDuration
	case errors.Is(err, ratecalc.ErrNonDivisibleDeposit):
		return decimal.Zero, ErrNonDivisibleDeposit
	case err != nil:
		return decimal.Zero, err
	}
	return rate, nil
}

// createStream validates p, pulls the deposit and records the stream.
func (o *op) createStream(p CreateParams, compounding bool) (*domain.Stream, error) {
	rate, err := o.e.validateCreate(p, o.now)
	if err != nil {
		return nil, err
	}

	l, err := o.ledger(p.Token)
	if err != nil {
		return nil, err
	}
	if err := l.TransferFrom(o.ctx, o.e.vault, p.Sender, o.e.vault, p.Deposit); err != nil {
		return nil, depositFailed(err)
	}

	id, err := o.tx.Streams().NextID(o.ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve stream id: %w", err)
	}

	s := &domain.Stream{
		ID:               id,
		Sender:           p.Sender,
		Recipient:        p.Recipient,
		Token:            p.Token,
		Deposit:          p.Deposit,
		RatePerUnit:      rate,
		RemainingBalance: p.Deposit,
		StartTime:        p.StartTime,
		StopTime:         p.StopTime,
		CreatedAt:        o.now,
		IsCompounding:    compounding,
	}
	if err := o.tx.Streams().Insert(o.ctx, s); err != nil {
		return nil, fmt.Errorf("insert stream: %w", err)
	}

	o.emit(domain.Event{
		Kind:      domain.EventStreamCreated,
		StreamID:  s.ID,
		Token:     s.Token,
		Sender:    s.Sender,
		Recipient: s.Recipient,
		StartTime: s.StartTime,
		StopTime:  s.StopTime,
		Deposit:   s.Deposit,
	})
	o.after(func() {
		o.e.metrics.RecordStreamCreated(compounding)
		o.e.metrics.RecordValueMoved(s.Token, "in", s.Deposit)
	})
	return s, nil
}

// GetStream returns a stream by id.
func (e *Engine) GetStream(ctx context.Context, id uint64) (*domain.Stream, error) {
	var s *domain.Stream
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		s, err = getStream(ctx, tx, id)
		return err
	})
	return s, err
}

// ListStreamsByParticipant returns the live streams where addr is sender or
// recipient, ordered by id.
func (e *Engine) ListStreamsByParticipant(ctx context.Context, addr domain.Address) ([]*domain.Stream, error) {
	var list []*domain.Stream
	err := e.view(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		list, err = tx.Streams().ListByParticipant(ctx, addr)
		return err
	})
	return list, err
}

func getStream(ctx context.Context, tx storage.Tx, id uint64) (*domain.Stream, error) {
	s, err := tx.Streams().Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrStreamNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// loadStream fetches a stream inside the unit.
func (o *op) loadStream(id uint64) (*domain.Stream, error) {
	return getStream(o.ctx, o.tx, id)
}

// requireParticipant fails unless caller is the sender or the recipient.
func requireParticipant(s *domain.Stream, caller domain.Address) error {
	if !s.IsParticipant(caller) {
		return ErrNotParticipant
	}
	return nil
}

// deleteIfSettled removes the stream once nothing remains, otherwise stores it.
// Reports whether the stream was removed.
func (o *op) deleteIfSettled(s *domain.Stream) (bool, error) {
	if s.RemainingBalance.IsPositive() {
		if err := o.tx.Streams().Update(o.ctx, s); err != nil {
			return false, fmt.Errorf("update stream: %w", err)
		}
		return false, nil
	}
	return true, o.destroy(s)
}

// destroy removes the stream and its compounding metadata. The id is never
// handed out again.
func (o *op) destroy(s *domain.Stream) error {
	if s.IsCompounding {
		if err := o.tx.Compounding().Delete(o.ctx, s.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("delete compounding meta: %w", err)
		}
	}
	if err := o.tx.Streams().Delete(o.ctx, s.ID); err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	return nil
}
