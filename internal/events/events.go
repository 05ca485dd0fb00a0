// Package events delivers committed ledger events to indexers and clients.
//
// The engine hands every committed operation's events to a Sink exactly once,
// after the storage unit has committed. Sinks never influence the outcome of
// the operation: a failed publish is logged and counted, not rolled back.
package events

import (
	"context"
	"errors"
	"fmt"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/observability"
)

// Sink receives the events of one committed operation, in emission order.
type Sink interface {
	Publish(ctx context.Context, events []*domain.Event) error
}

// Discard is a Sink that drops everything.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(context.Context, []*domain.Event) error { return nil }

// Named is a Sink with a metrics label.
type Named struct {
	Name string
	Sink Sink
}

// Multi fans events out to every sink. Every sink is attempted; the
// returned error joins the individual failures.
type Multi struct {
	sinks   []Named
	metrics *observability.Metrics
}

// NewMulti creates a fan-out over sinks. A nil metrics uses DefaultMetrics.
func NewMulti(metrics *observability.Metrics, sinks ...Named) *Multi {
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}
	return &Multi{sinks: sinks, metrics: metrics}
}

// Add appends a sink.
func (m *Multi) Add(name string, sink Sink) {
	m.sinks = append(m.sinks, Named{Name: name, Sink: sink})
}

// Publish implements Sink.
func (m *Multi) Publish(ctx context.Context, evs []*domain.Event) error {
	if len(evs) == 0 {
		return nil
	}

	var errs []error
	for _, s := range m.sinks {
		err := s.Sink.Publish(ctx, evs)
		m.metrics.RecordPublish(s.Name, len(evs), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = Discard{}
	_ Sink = (*Multi)(nil)
)
