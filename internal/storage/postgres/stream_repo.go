package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/storage"
)

// streamRepo implements storage.StreamRepo.
type streamRepo struct {
	tx *tx
}

const streamColumns = `
	id, sender, recipient, token,
	deposit::text, rate_per_unit::text, remaining_balance::text,
	start_time, stop_time, created_at, is_compounding
`

// NextID reserves the next stream id. Sequences are not transactional, so
// an id taken by a unit that later rolls back is never handed out again.
func (r *streamRepo) NextID(ctx context.Context) (uint64, error) {
	if err := r.tx.writable(); err != nil {
		return 0, err
	}
	var id int64
	if err := r.tx.q.QueryRow(ctx, `SELECT nextval('stream_id_seq')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("next stream id: %w", err)
	}
	return uint64(id), nil
}

// Insert adds a new stream. Returns ErrDuplicateKey if the id exists.
func (r *streamRepo) Insert(ctx context.Context, s *domain.Stream) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if s == nil || s.ID == 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO streams (
			id, sender, recipient, token,
			deposit, rate_per_unit, remaining_balance,
			start_time, stop_time, created_at, is_compounding
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11)
	`

	_, err := r.tx.q.Exec(ctx, query,
		int64(s.ID),
		string(s.Sender),
		string(s.Recipient),
		s.Token,
		numericArg(s.Deposit),
		numericArg(s.RatePerUnit),
		numericArg(s.RemainingBalance),
		s.StartTime,
		s.StopTime,
		s.CreatedAt,
		s.IsCompounding,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert stream: %w", err)
	}
	return nil
}

// Get retrieves a stream by id. Returns ErrNotFound if not exists.
func (r *streamRepo) Get(ctx context.Context, id uint64) (*domain.Stream, error) {
	query := `SELECT ` + streamColumns + ` FROM streams WHERE id = $1`

	s, err := scanStream(r.tx.q.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get stream: %w", err)
	}
	return s, nil
}

// Update overwrites the mutable fields of an existing stream.
func (r *streamRepo) Update(ctx context.Context, s *domain.Stream) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if s == nil {
		return storage.ErrInvalidInput
	}

	tag, err := r.tx.q.Exec(ctx, `
		UPDATE streams SET remaining_balance = $2::numeric, is_compounding = $3
		WHERE id = $1
	`, int64(s.ID), numericArg(s.RemainingBalance), s.IsCompounding)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("update stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a stream. Returns ErrNotFound if not exists.
func (r *streamRepo) Delete(ctx context.Context, id uint64) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	tag, err := r.tx.q.Exec(ctx, `DELETE FROM streams WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("delete stream: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByParticipant returns streams where addr is sender or recipient, ordered by id ASC.
func (r *streamRepo) ListByParticipant(ctx context.Context, addr domain.Address) ([]*domain.Stream, error) {
	query := `SELECT ` + streamColumns + `
		FROM streams
		WHERE sender = $1 OR recipient = $1
		ORDER BY id ASC
	`

	rows, err := r.tx.q.Query(ctx, query, string(addr))
	if err != nil {
		return nil, fmt.Errorf("list streams by participant: %w", err)
	}
	defer rows.Close()

	var result []*domain.Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stream: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate streams: %w", err)
	}
	return result, nil
}

// TotalRemaining sums the remaining balances of streams in tokenID.
func (r *streamRepo) TotalRemaining(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	var raw string
	err := r.tx.q.QueryRow(ctx,
		`SELECT COALESCE(SUM(remaining_balance), 0)::text FROM streams WHERE token = $1`, tokenID,
	).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum remaining: %w", err)
	}
	return parseNumeric(raw)
}

// scanStream scans a single row into a Stream.
func scanStream(row pgx.Row) (*domain.Stream, error) {
	var (
		s                        domain.Stream
		id                       int64
		sender, recipient        string
		deposit, rate, remaining string
	)

	err := row.Scan(
		&id,
		&sender,
		&recipient,
		&s.Token,
		&deposit,
		&rate,
		&remaining,
		&s.StartTime,
		&s.StopTime,
		&s.CreatedAt,
		&s.IsCompounding,
	)
	if err != nil {
		return nil, err
	}

	s.ID = uint64(id)
	s.Sender = domain.Address(sender)
	s.Recipient = domain.Address(recipient)
	if s.Deposit, err = parseNumeric(deposit); err != nil {
		return nil, err
	}
	if s.RatePerUnit, err = parseNumeric(rate); err != nil {
		return nil, err
	}
	if s.RemainingBalance, err = parseNumeric(remaining); err != nil {
		return nil, err
	}
	return &s, nil
}

// compoundingRepo implements storage.CompoundingRepo.
type compoundingRepo struct {
	tx *tx
}

// Insert adds metadata for a stream. Returns ErrDuplicateKey if present.
func (r *compoundingRepo) Insert(ctx context.Context, m *domain.CompoundingMeta) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if m == nil || m.StreamID == 0 {
		return storage.ErrInvalidInput
	}

	_, err := r.tx.q.Exec(ctx, `
		INSERT INTO compounding_meta (
			stream_id, exchange_rate_snapshot, sender_share_percent, recipient_share_percent
		) VALUES ($1, $2::numeric, $3, $4)
	`, int64(m.StreamID), numericArg(m.ExchangeRateSnapshot), int16(m.SenderSharePercent), int16(m.RecipientSharePercent))
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		if isConstraintError(err) {
			return fmt.Errorf("%w: %v", storage.ErrInvalidInput, err)
		}
		return fmt.Errorf("insert compounding meta: %w", err)
	}
	return nil
}

// Get retrieves metadata by stream id. Returns ErrNotFound if not exists.
func (r *compoundingRepo) Get(ctx context.Context, streamID uint64) (*domain.CompoundingMeta, error) {
	var (
		id                          int64
		snapshot                    string
		senderShare, recipientShare int16
	)
	err := r.tx.q.QueryRow(ctx, `
		SELECT stream_id, exchange_rate_snapshot::text, sender_share_percent, recipient_share_percent
		FROM compounding_meta
		WHERE stream_id = $1
	`, int64(streamID)).Scan(&id, &snapshot, &senderShare, &recipientShare)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get compounding meta: %w", err)
	}

	rate, err := parseNumeric(snapshot)
	if err != nil {
		return nil, err
	}
	return &domain.CompoundingMeta{
		StreamID:              uint64(id),
		ExchangeRateSnapshot:  rate,
		SenderSharePercent:    uint8(senderShare),
		RecipientSharePercent: uint8(recipientShare),
	}, nil
}

// Update overwrites the snapshot of existing metadata.
func (r *compoundingRepo) Update(ctx context.Context, m *domain.CompoundingMeta) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	if m == nil {
		return storage.ErrInvalidInput
	}
	tag, err := r.tx.q.Exec(ctx, `
		UPDATE compounding_meta SET exchange_rate_snapshot = $2::numeric
		WHERE stream_id = $1
	`, int64(m.StreamID), numericArg(m.ExchangeRateSnapshot))
	if err != nil {
		return fmt.Errorf("update compounding meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes metadata. Returns ErrNotFound if not exists.
func (r *compoundingRepo) Delete(ctx context.Context, streamID uint64) error {
	if err := r.tx.writable(); err != nil {
		return err
	}
	tag, err := r.tx.q.Exec(ctx, `DELETE FROM compounding_meta WHERE stream_id = $1`, int64(streamID))
	if err != nil {
		return fmt.Errorf("delete compounding meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

var (
	_ storage.StreamRepo      = (*streamRepo)(nil)
	_ storage.CompoundingRepo = (*compoundingRepo)(nil)
)
