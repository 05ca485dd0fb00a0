package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// WSConfig configures WebSocket feed behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// Logger receives connection errors. Defaults to log.Default().
	Logger *log.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// ErrFeedDisconnected is returned while the feed has no live connection.
var ErrFeedDisconnected = errors.New("rate feed disconnected")

// WSFeed keeps the latest pushed exchange rate of each subscribed token.
// It subscribes with exchangeRateSubscribe and resubscribes after reconnect.
// Rates are dropped when the connection is lost, so a Chain falls through to
// the next source instead of quoting values that are no longer pushed.
type WSFeed struct {
	endpoint string
	tokens   []string
	config   WSConfig
	logger   *log.Logger

	conn      *websocket.Conn
	connMu    sync.Mutex
	connected atomic.Bool
	closed    atomic.Bool
	requestID atomic.Uint64

	rates   map[string]decimal.Decimal
	ratesMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWSFeed connects to endpoint and subscribes to tokens.
func NewWSFeed(ctx context.Context, endpoint string, tokens []string, config *WSConfig) (*WSFeed, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	f := &WSFeed{
		endpoint: endpoint,
		tokens:   append([]string(nil), tokens...),
		config:   cfg,
		logger:   logger,
		rates:    make(map[string]decimal.Decimal),
		done:     make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}

	f.wg.Add(2)
	go f.readLoop()
	go f.pingLoop()

	return f, nil
}

// connect dials the endpoint and sends the subscription request.
func (f *WSFeed) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      f.requestID.Add(1),
		Method:  "exchangeRateSubscribe",
		Params:  f.tokens,
	}
	conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.closed.Load() {
		conn.Close()
		return fmt.Errorf("feed closed")
	}
	f.conn = conn
	f.connected.Store(true)
	return nil
}

// CurrentExchangeRate implements Source with the last pushed value.
func (f *WSFeed) CurrentExchangeRate(_ context.Context, token string) (decimal.Decimal, error) {
	if !f.connected.Load() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrFeedDisconnected, f.endpoint)
	}

	f.ratesMu.RLock()
	defer f.ratesMu.RUnlock()

	rate, ok := f.rates[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return rate, nil
}

// Close closes the WebSocket connection and waits for background loops.
func (f *WSFeed) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	close(f.done)

	f.connMu.Lock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
	}
	f.connMu.Unlock()

	f.wg.Wait()
	return nil
}

// readLoop reads notifications and reconnects with exponential backoff.
func (f *WSFeed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn != nil {
			conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))
			_, message, err := conn.ReadMessage()
			if err == nil {
				reconnectDelay = f.config.ReconnectDelay
				f.handleMessage(message)
				continue
			}
			if f.closed.Load() {
				return
			}
			f.logger.Printf("[oracle-ws] read: %v", err)
			conn.Close()
			f.dropRates()
		}

		select {
		case <-f.done:
			return
		case <-time.After(reconnectDelay):
		}

		reconnectDelay *= 2
		if reconnectDelay > f.config.MaxReconnectDelay {
			reconnectDelay = f.config.MaxReconnectDelay
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := f.connect(ctx)
		cancel()
		if err != nil {
			f.logger.Printf("[oracle-ws] reconnect: %v", err)
			f.connMu.Lock()
			f.conn = nil
			f.connMu.Unlock()
		}
	}
}

// dropRates forgets every pushed rate until the feed reconnects.
func (f *WSFeed) dropRates() {
	f.connected.Store(false)
	f.ratesMu.Lock()
	clear(f.rates)
	f.ratesMu.Unlock()
}

// handleMessage stores rates from exchangeRateNotification messages.
func (f *WSFeed) handleMessage(message []byte) {
	var notif wsNotification
	if err := json.Unmarshal(message, &notif); err != nil {
		return
	}

	if notif.Error != nil {
		f.logger.Printf("[oracle-ws] error response: code=%d msg=%s", notif.Error.Code, notif.Error.Message)
		return
	}
	if notif.Method != "exchangeRateNotification" || notif.Params == nil {
		return
	}

	value := notif.Params.Result
	rate, err := decimal.NewFromString(value.Rate)
	if err != nil || ValidateRate(rate) != nil {
		f.logger.Printf("[oracle-ws] dropping invalid rate %q for %s", value.Rate, value.Token)
		return
	}

	f.ratesMu.Lock()
	f.rates[value.Token] = rate
	f.ratesMu.Unlock()
}

// pingLoop sends periodic ping frames to keep connection alive.
func (f *WSFeed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			if f.conn != nil {
				f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				// A dead connection surfaces in readLoop.
				_ = f.conn.WriteMessage(websocket.PingMessage, nil)
			}
			f.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsRequest struct {
	JSONRPC string   `json:"jsonrpc"`
	ID      uint64   `json:"id"`
	Method  string   `json:"method"`
	Params  []string `json:"params"`
}

type wsNotification struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	Params  *wsParams `json:"params"`
	Error   *RPCError `json:"error"`
}

type wsParams struct {
	Subscription int64      `json:"subscription"`
	Result       rateResult `json:"result"`
}

var _ Source = (*WSFeed)(nil)
