package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/token"
)

// Store runs units of work against the ledger state.
type Store interface {
	// Atomic runs fn as one serialized unit. If fn returns an error, every
	// write made through tx (records, policy, token balances) is discarded.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// View runs fn against a consistent read-only snapshot.
	// Writes made through tx inside View fail with ErrReadOnly.
	View(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx gives access to every repository inside one unit of work.
type Tx interface {
	Streams() StreamRepo
	Compounding() CompoundingRepo
	Policy() PolicyRepo
	Tokens() TokenRegistry
}

// StreamRepo provides access to stream records.
type StreamRepo interface {
	// NextID reserves the next stream id. Ids are never handed out twice,
	// even when the reserving unit rolls back.
	NextID(ctx context.Context) (uint64, error)

	// Insert adds a new stream. Returns ErrDuplicateKey if the id exists.
	Insert(ctx context.Context, s *domain.Stream) error

	// Get retrieves a stream by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id uint64) (*domain.Stream, error)

	// Update overwrites the mutable fields of an existing stream.
	// Returns ErrNotFound if not exists.
	Update(ctx context.Context, s *domain.Stream) error

	// Delete removes a stream. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, id uint64) error

	// ListByParticipant returns streams where addr is sender or recipient,
	// ordered by id ASC.
	ListByParticipant(ctx context.Context, addr domain.Address) ([]*domain.Stream, error)

	// TotalRemaining returns the sum of remaining balances of live streams
	// in tokenID. This is the principal the vault owes for that token.
	TotalRemaining(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// CompoundingRepo provides access to compounding metadata.
type CompoundingRepo interface {
	// Insert adds metadata for a stream. Returns ErrDuplicateKey if present.
	Insert(ctx context.Context, m *domain.CompoundingMeta) error

	// Get retrieves metadata by stream id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, streamID uint64) (*domain.CompoundingMeta, error)

	// Update overwrites the snapshot of existing metadata.
	Update(ctx context.Context, m *domain.CompoundingMeta) error

	// Delete removes metadata. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, streamID uint64) error
}

// PolicyRepo provides access to the fee policy, whitelist and earnings.
type PolicyRepo interface {
	// GetFeePolicy returns the current policy (zero fee if never set).
	GetFeePolicy(ctx context.Context) (*domain.FeePolicy, error)

	// SetFeePercent stores a new fee.
	SetFeePercent(ctx context.Context, percent uint8) error

	// IsWhitelisted reports whether token is eligible for compounding.
	IsWhitelisted(ctx context.Context, tokenID string) (bool, error)

	// SetWhitelisted adds or removes token from the whitelist.
	SetWhitelisted(ctx context.Context, tokenID string, whitelisted bool) error

	// ListWhitelisted returns whitelisted tokens sorted by id.
	ListWhitelisted(ctx context.Context) ([]string, error)

	// Earnings returns accumulated operator earnings for token (zero if none).
	Earnings(ctx context.Context, tokenID string) (decimal.Decimal, error)

	// SetEarnings overwrites accumulated operator earnings for token.
	SetEarnings(ctx context.Context, tokenID string, amount decimal.Decimal) error
}

// TokenRegistry provides access to registered tokens and their ledgers.
type TokenRegistry interface {
	// Register adds a token. Returns ErrDuplicateKey if the id exists.
	Register(ctx context.Context, info *domain.TokenInfo) error

	// Get retrieves token info. Returns ErrNotFound if not registered.
	Get(ctx context.Context, tokenID string) (*domain.TokenInfo, error)

	// Ledger returns the ledger of a registered token.
	// Returns ErrNotFound if not registered.
	Ledger(ctx context.Context, tokenID string) (token.Ledger, error)

	// Mint credits amount to holder out of thin air.
	Mint(ctx context.Context, tokenID string, to domain.Address, amount decimal.Decimal) error
}

// EventStore provides access to the append-only event journal.
type EventStore interface {
	// Append adds events. Fails the entire batch on a duplicate event_id.
	Append(ctx context.Context, events []*domain.Event) error

	// GetByStreamID retrieves all events for a stream, ordered by time, op, seq.
	GetByStreamID(ctx context.Context, streamID uint64) ([]*domain.Event, error)

	// GetByTimeRange retrieves events within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Event, error)

	// GetAll retrieves every event, ordered by time, op, seq.
	GetAll(ctx context.Context) ([]*domain.Event, error)
}
