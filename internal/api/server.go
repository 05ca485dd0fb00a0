// Package api exposes the engine over JSON/HTTP.
//
// Every mutating request names its caller in the X-Caller header. The header
// stands in for a verified signature and is NOT checked: anyone who can reach
// the API can act as any address, the admin included. Put the service behind
// something that authenticates callers. Options.AdminToken additionally
// guards the admin routes (token registry, mint, fee, whitelist, earnings)
// with a shared secret in the X-Admin-Token header.
package api

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/engine"
	"token-stream-ledger/internal/observability"
	"token-stream-ledger/internal/storage"
)

// CallerHeader carries the address of the caller.
const CallerHeader = "X-Caller"

// AdminTokenHeader carries the shared admin secret.
const AdminTokenHeader = "X-Admin-Token"

// Options configures a Server.
type Options struct {
	Engine  *engine.Engine
	Journal storage.EventStore // optional, enables /v1/streams/{id}/events
	Feed    FeedHandler        // optional, serves /ws/events
	Logger  *log.Logger

	// AdminToken guards the admin routes when set. Empty leaves them open to
	// any request that names the admin in X-Caller.
	AdminToken string
}

// FeedHandler is the live event feed served on /ws/events.
type FeedHandler interface {
	http.Handler
	Clients() int
}

// Server handles API requests.
type Server struct {
	eng     *engine.Engine
	journal storage.EventStore
	feed    FeedHandler
	logger  *log.Logger
	started time.Time

	adminToken []byte

	requests atomic.Int64
}

// New creates a Server.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		eng:     opts.Engine,
		journal: opts.Journal,
		feed:    opts.Feed,
		logger:  logger,
		started: time.Now(),
	}
	if opts.AdminToken != "" {
		s.adminToken = []byte(opts.AdminToken)
	}
	return s
}

// Handler returns the HTTP handler with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.feed != nil {
		mux.Handle("GET /ws/events", s.feed)
	}

	mux.HandleFunc("POST /v1/streams", s.handleCreate)
	mux.HandleFunc("POST /v1/compounding-streams", s.handleCreateCompounding)
	mux.HandleFunc("GET /v1/streams/{id}", s.handleGetStream)
	mux.HandleFunc("GET /v1/streams/{id}/balance", s.handleBalance)
	mux.HandleFunc("GET /v1/streams/{id}/compounding", s.handleGetCompounding)
	mux.HandleFunc("GET /v1/streams/{id}/events", s.handleStreamEvents)
	mux.HandleFunc("POST /v1/streams/{id}/withdraw", s.handleWithdraw)
	mux.HandleFunc("POST /v1/streams/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /v1/streams/{id}/interest", s.handleRealizeInterest)
	mux.HandleFunc("GET /v1/accounts/{address}/streams", s.handleListStreams)

	mux.HandleFunc("POST /v1/tokens", s.admin(s.handleRegisterToken))
	mux.HandleFunc("GET /v1/tokens/{token}", s.handleGetToken)
	mux.HandleFunc("POST /v1/tokens/{token}/mint", s.admin(s.handleMint))
	mux.HandleFunc("POST /v1/tokens/{token}/approve", s.handleApprove)
	mux.HandleFunc("GET /v1/tokens/{token}/balances/{address}", s.handleBalanceOf)
	mux.HandleFunc("GET /v1/tokens/{token}/allowances/{address}", s.handleAllowance)

	mux.HandleFunc("GET /v1/fee", s.handleGetFee)
	mux.HandleFunc("PUT /v1/fee", s.admin(s.handleUpdateFee))
	mux.HandleFunc("GET /v1/whitelist", s.handleListWhitelist)
	mux.HandleFunc("GET /v1/whitelist/{token}", s.handleIsWhitelisted)
	mux.HandleFunc("PUT /v1/whitelist/{token}", s.admin(s.handleWhitelist))
	mux.HandleFunc("DELETE /v1/whitelist/{token}", s.admin(s.handleDiscard))
	mux.HandleFunc("GET /v1/earnings/{token}", s.handleEarnings)
	mux.HandleFunc("POST /v1/earnings/{token}/take", s.admin(s.handleTakeEarnings))

	return s.count(mux)
}

// admin rejects requests without the admin token when one is configured.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != nil &&
			subtle.ConstantTimeCompare([]byte(r.Header.Get(AdminTokenHeader)), s.adminToken) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "admin token required", Code: "admin_token_required"})
			return
		}
		next(w, r)
	}
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		next.ServeHTTP(w, r)
	})
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status      string         `json:"status"`
	Uptime      string         `json:"uptime"`
	Started     time.Time      `json:"started"`
	LedgerTime  int64          `json:"ledger_time"`
	Admin       domain.Address `json:"admin"`
	Vault       domain.Address `json:"vault"`
	Requests    int64          `json:"requests"`
	FeedClients int            `json:"feed_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:     "running",
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Started:    s.started,
		LedgerTime: s.eng.Now(),
		Admin:      s.eng.Admin(),
		Vault:      s.eng.Vault(),
		Requests:   s.requests.Load(),
	}
	if s.feed != nil {
		resp.FeedClients = s.feed.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func caller(r *http.Request) domain.Address {
	return domain.Address(r.Header.Get(CallerHeader))
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(r.PathValue("id"), 10, 64)
}
