// Package engine implements stream accounting and settlement.
//
// Every mutating operation runs as one storage.Store.Atomic unit: stream
// records, policy state and token balances either all change or none do.
// The current time is read once per operation from the Clock. Events emitted
// during an operation are buffered and handed to the Sink only after commit.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/address"
	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/events"
	"token-stream-ledger/internal/idhash"
	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/oracle"
	"token-stream-ledger/internal/storage"
	"token-stream-ledger/internal/token"
)

// Options configures an Engine.
type Options struct {
	Store   storage.Store  // required
	Admin   domain.Address // required, operator identity
	Vault   domain.Address // required, the ledger's own identity; see address.DeriveVault
	Oracle  oracle.Source  // required for compounding streams
	Sink    events.Sink    // receives committed events; default discards
	Clock   Clock          // default SystemClock
	Logger  *log.Logger    // default log.Default()
	Metrics *observability.Metrics
}

// Engine is the stream ledger, settlement engine, compounding extension and
// fee policy behind one API.
type Engine struct {
	store   storage.Store
	admin   domain.Address
	vault   domain.Address
	oracle  oracle.Source
	sink    events.Sink
	clock   Clock
	logger  *log.Logger
	metrics *observability.Metrics
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("engine: store is required")
	}
	if err := address.Validate(opts.Admin); err != nil {
		return nil, fmt.Errorf("engine: admin: %w", err)
	}
	if err := address.Validate(opts.Vault); err != nil {
		return nil, fmt.Errorf("engine: vault: %w", err)
	}
	if opts.Admin == opts.Vault {
		return nil, errors.New("engine: admin and vault must differ")
	}

	e := &Engine{
		store:   opts.Store,
		admin:   opts.Admin,
		vault:   opts.Vault,
		oracle:  opts.Oracle,
		sink:    opts.Sink,
		clock:   opts.Clock,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if e.sink == nil {
		e.sink = events.Discard{}
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.metrics == nil {
		e.metrics = observability.DefaultMetrics
	}
	return e, nil
}

// Admin returns the operator identity.
func (e *Engine) Admin() domain.Address { return e.admin }

// Vault returns the identity that holds every deposit.
func (e *Engine) Vault() domain.Address { return e.vault }

// Now returns the engine clock.
func (e *Engine) Now() int64 { return e.clock.Now() }

// op is the context of one mutating operation.
type op struct {
	e        *Engine
	ctx      context.Context
	tx       storage.Tx
	id       string
	now      int64
	events   []*domain.Event
	onCommit []func()
}

// run executes fn as one atomic unit and publishes its events after commit.
func (e *Engine) run(ctx context.Context, name string, fn func(o *op) error) error {
	start := time.Now()

	opID, err := uuid.NewV7()
	if err != nil {
		opID = uuid.New()
	}
	o := &op{e: e, id: opID.String(), now: e.clock.Now()}

	err = e.store.Atomic(ctx, func(ctx context.Context, tx storage.Tx) error {
		o.ctx = ctx
		o.tx = tx
		o.events = o.events[:0]
		o.onCommit = o.onCommit[:0]
		return fn(o)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	e.metrics.RecordOperation(name, status, time.Since(start).Seconds())
	if err != nil {
		return err
	}

	for _, f := range o.onCommit {
		f()
	}
	e.metrics.LastSuccessfulOperation.SetToCurrentTime()
	e.logger.Printf("[engine] %s op=%s now=%d events=%d", name, o.id, o.now, len(o.events))

	if len(o.events) > 0 {
		if perr := e.sink.Publish(context.WithoutCancel(ctx), o.events); perr != nil {
			e.logger.Printf("[engine] publish op=%s: %v", o.id, perr)
		}
	}
	return nil
}

// view runs fn against a read-only snapshot.
func (e *Engine) view(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return e.store.View(ctx, fn)
}

// emit buffers an event for publication after commit.
func (o *op) emit(ev domain.Event) {
	ev.OpID = o.id
	ev.Seq = len(o.events)
	ev.Time = o.now
	ev.EventID = idhash.ComputeEventID(o.id, ev.Seq, ev.Kind, ev.StreamID)
	o.events = append(o.events, &ev)
}

// after registers a side effect that runs only if the unit commits.
func (o *op) after(f func()) {
	o.onCommit = append(o.onCommit, f)
}

// ledger returns the token ledger of tokenID inside the unit.
func (o *op) ledger(tokenID string) (token.Ledger, error) {
	return ledgerOf(o.ctx, o.tx, tokenID)
}

func ledgerOf(ctx context.Context, tx storage.Tx, tokenID string) (token.Ledger, error) {
	l, err := tx.Tokens().Ledger(ctx, tokenID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// payout transfers a positive amount out of the vault.
func (o *op) payout(l token.Ledger, to domain.Address, amt decimal.Decimal) error {
	if !amt.IsPositive() {
		return nil
	}
	if err := l.Transfer(o.ctx, o.e.vault, to, amt); err != nil {
		return transferFailed(err)
	}
	tokenID := l.ID()
	o.after(func() { o.e.metrics.RecordValueMoved(tokenID, "out", amt) })
	return nil
}

// requireAdmin fails unless caller is the operator.
func (e *Engine) requireAdmin(caller domain.Address) error {
	if caller != e.admin {
		return ErrNotAdmin
	}
	return nil
}

// exchangeRate reads and validates the current rate of a wrapped token.
func (e *Engine) exchangeRate(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if e.oracle == nil {
		return decimal.Zero, fmt.Errorf("%w: no oracle configured", ErrOracleUnavailable)
	}

	start := time.Now()
	rate, err := e.oracle.CurrentExchangeRate(ctx, tokenID)
	if err == nil {
		err = oracle.ValidateRate(rate)
	}
	e.metrics.RecordOracleCall(tokenID, time.Since(start).Seconds(), err)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %w", ErrOracleUnavailable, tokenID, err)
	}
	return rate, nil
}

// validAmount checks that v is a non-negative integer.
func validAmount(v decimal.Decimal) error {
	if !token.ValidAmount(v) {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, v.String())
	}
	return nil
}
