package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/storage"
)

// EventStore implements storage.EventStore using ClickHouse.
//
// MergeTree does not enforce uniqueness, so Append checks event ids before
// inserting. The journal has a single writer (the engine's publish path).
type EventStore struct {
	conn *Conn
}

// NewEventStore creates a new EventStore.
func NewEventStore(conn *Conn) *EventStore {
	return &EventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventStore = (*EventStore)(nil)

const eventColumns = `
	event_id, op_id, seq, kind, time, stream_id, token,
	sender, recipient, start_time, stop_time,
	deposit, amount, sender_amount, recipient_amount,
	growth, sender_interest, recipient_interest, operator_interest,
	sender_share, recipient_share, fee_percent
`

// Append adds events. Fails the entire batch on a duplicate event_id.
func (s *EventStore) Append(ctx context.Context, events []*domain.Event) (err error) {
	if len(events) == 0 {
		return nil
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "append_events", time.Since(start).Seconds(), err)
	}()

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.EventID] = struct{}{}
	}

	for _, e := range events {
		exists, err := s.exists(ctx, e.EventID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO stream_events (`+eventColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.EventID, e.OpID, uint32(e.Seq), string(e.Kind), e.Time, e.StreamID, e.Token,
			string(e.Sender), string(e.Recipient), e.StartTime, e.StopTime,
			e.Deposit, e.Amount, e.SenderAmount, e.RecipientAmount,
			e.Growth, e.SenderInterest, e.RecipientInterest, e.OperatorInterest,
			e.SenderShare, e.RecipientShare, e.FeePercent,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByStreamID retrieves all events for a stream, ordered by time, op, seq.
func (s *EventStore) GetByStreamID(ctx context.Context, streamID uint64) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM stream_events
		WHERE stream_id = ?
		ORDER BY time ASC, op_id ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, streamID)
	if err != nil {
		return nil, fmt.Errorf("query by stream id: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetByTimeRange retrieves events within [start, end] (inclusive).
func (s *EventStore) GetByTimeRange(ctx context.Context, start, end int64) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM stream_events
		WHERE time >= ? AND time <= ?
		ORDER BY time ASC, op_id ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// GetAll retrieves every event, ordered by time, op, seq.
func (s *EventStore) GetAll(ctx context.Context) ([]*domain.Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM stream_events
		ORDER BY time ASC, op_id ASC, seq ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// exists checks if an event with the given id exists.
func (s *EventStore) exists(ctx context.Context, eventID string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count(*) FROM stream_events WHERE event_id = ?`, eventID,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// scanEvents scans multiple rows.
func scanEvents(rows chRows) ([]*domain.Event, error) {
	var events []*domain.Event

	for rows.Next() {
		var (
			e                 domain.Event
			seq               uint32
			kind              string
			sender, recipient string
			amounts           [8]decimal.Decimal
		)

		err := rows.Scan(
			&e.EventID, &e.OpID, &seq, &kind, &e.Time, &e.StreamID, &e.Token,
			&sender, &recipient, &e.StartTime, &e.StopTime,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3],
			&amounts[4], &amounts[5], &amounts[6], &amounts[7],
			&e.SenderShare, &e.RecipientShare, &e.FeePercent,
		)
		if err != nil {
			return nil, fmt.Errorf("scan stream event row: %w", err)
		}

		e.Seq = int(seq)
		e.Kind = domain.EventKind(kind)
		e.Sender = domain.Address(sender)
		e.Recipient = domain.Address(recipient)
		e.Deposit, e.Amount, e.SenderAmount, e.RecipientAmount = amounts[0], amounts[1], amounts[2], amounts[3]
		e.Growth, e.SenderInterest, e.RecipientInterest, e.OperatorInterest = amounts[4], amounts[5], amounts[6], amounts[7]
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream event rows: %w", err)
	}

	return events, nil
}
