package events

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"token-stream-ledger/internal/domain"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string
	Name           string
	Subject        string // events go to <Subject>.<kind>
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// natsConn is the subset of *nats.Conn used by the publisher.
type natsConn interface {
	Publish(subject string, data []byte) error
	FlushWithContext(ctx context.Context) error
	Close()
}

// NATSPublisher publishes each event as a JSON message on NATS.
type NATSPublisher struct {
	conn    natsConn
	subject string
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return newNATSPublisher(conn, cfg.Subject), nil
}

func newNATSPublisher(conn natsConn, subject string) *NATSPublisher {
	if subject == "" {
		subject = "streams.events"
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

// Publish implements Sink. It flushes once per batch so that a dead
// connection surfaces as an error.
func (p *NATSPublisher) Publish(ctx context.Context, evs []*domain.Event) error {
	for _, e := range evs {
		payload, err := Encode(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if err := p.conn.Publish(p.subject+"."+string(e.Kind), payload); err != nil {
			return fmt.Errorf("publish %s: %w", e.EventID, err)
		}
	}
	return p.conn.FlushWithContext(ctx)
}

// Close closes the NATS connection.
func (p *NATSPublisher) Close() {
	p.conn.Close()
}

var _ Sink = (*NATSPublisher)(nil)
