package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/storage/memory"
)

func testMetrics() *observability.Metrics {
	return observability.NewMetrics("test", prometheus.NewRegistry())
}

func sampleEvents() []*domain.Event {
	return []*domain.Event{
		{
			EventID:   "e1",
			OpID:      "op1",
			Seq:       0,
			Kind:      domain.EventStreamCreated,
			Time:      100,
			StreamID:  1,
			Token:     "TKN",
			Sender:    "alice",
			Recipient: "bob",
			StartTime: 200,
			StopTime:  3800,
			Deposit:   decimal.NewFromInt(3600),
		},
		{
			EventID:  "e2",
			OpID:     "op2",
			Kind:     domain.EventWithdraw,
			Time:     300,
			StreamID: 2,
			Amount:   decimal.NewFromInt(50),
		},
	}
}

type recordingSink struct {
	got [][]*domain.Event
	err error
}

func (s *recordingSink) Publish(_ context.Context, evs []*domain.Event) error {
	s.got = append(s.got, evs)
	return s.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("down")}
	m := NewMulti(testMetrics(), Named{Name: "ok", Sink: ok})
	m.Add("bad", bad)

	err := m.Publish(context.Background(), sampleEvents())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)

	// Empty batches are not delivered.
	require.NoError(t, m.Publish(context.Background(), nil))
	assert.Len(t, ok.got, 1)
}

func TestEncode(t *testing.T) {
	b, err := Encode(sampleEvents()[0])
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "STREAM_CREATED", m["kind"])
	assert.Equal(t, "3600", m["deposit"])
	assert.Equal(t, float64(1), m["stream_id"])
	assert.NotContains(t, m, "amount")
	assert.NotContains(t, m, "fee_percent")

	b, err = Encode(&domain.Event{EventID: "f", Kind: domain.EventFeeUpdated, FeePercent: 0})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"fee_percent":0`)
}

func TestStoreSink(t *testing.T) {
	store := memory.NewEventStore()
	sink := NewStoreSink(store)
	ctx := context.Background()

	require.NoError(t, sink.Publish(ctx, sampleEvents()))
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.Error(t, sink.Publish(ctx, sampleEvents()[:1]))
}

type fakeNATS struct {
	subjects []string
	payloads [][]byte
	flushes  int
	err      error
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func (f *fakeNATS) FlushWithContext(context.Context) error {
	f.flushes++
	return nil
}

func (f *fakeNATS) Close() {}

func TestNATSPublisher(t *testing.T) {
	conn := &fakeNATS{}
	p := newNATSPublisher(conn, "")

	require.NoError(t, p.Publish(context.Background(), sampleEvents()))
	assert.Equal(t, []string{"streams.events.STREAM_CREATED", "streams.events.WITHDRAW"}, conn.subjects)
	assert.Equal(t, 1, conn.flushes)

	var msg Message
	require.NoError(t, json.Unmarshal(conn.payloads[1], &msg))
	assert.Equal(t, "50", msg.Amount)

	conn.err = errors.New("closed")
	assert.Error(t, p.Publish(context.Background(), sampleEvents()))
}

func TestKafkaPublisher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if !strings.Contains(string(val), `"kind":"STREAM_CREATED"`) {
			return errors.New("unexpected payload")
		}
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	p := NewKafkaPublisherWithProducer(producer, "")
	require.NoError(t, p.Publish(context.Background(), sampleEvents()))
	require.NoError(t, p.Close())
}

func TestKafkaPublisher_Failure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(producer, "t")
	err := p.Publish(context.Background(), sampleEvents()[:1])
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}

func TestHub_BroadcastsWithFilter(t *testing.T) {
	hub := NewHub(nil, testMetrics())
	server := httptest.NewServer(hub)
	defer server.Close()
	defer hub.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	all, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer all.Close()

	only2, _, err := websocket.DefaultDialer.Dial(wsURL+"?stream=2", nil)
	require.NoError(t, err)
	defer only2.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), sampleEvents()))

	read := func(conn *websocket.Conn) Message {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var m Message
		require.NoError(t, conn.ReadJSON(&m))
		return m
	}

	assert.Equal(t, "e1", read(all).EventID)
	assert.Equal(t, "e2", read(all).EventID)
	assert.Equal(t, "e2", read(only2).EventID)
}

func TestHub_RejectsBadFilter(t *testing.T) {
	hub := NewHub(nil, testMetrics())
	server := httptest.NewServer(hub)
	defer server.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"?stream=x", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
