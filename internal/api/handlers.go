package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"

	"token-stream-ledger/internal/domain"
	"token-stream-ledger/internal/engine"
	"token-stream-ledger/internal/events"
)

// CreateRequest opens a stream from the caller to Recipient.
type CreateRequest struct {
	Recipient domain.Address  `json:"recipient"`
	Deposit   decimal.Decimal `json:"deposit"`
	Token     string          `json:"token"`
	StartTime int64           `json:"start_time"`
	StopTime  int64           `json:"stop_time"`
}

// CreateCompoundingRequest opens a compounding stream from the caller.
type CreateCompoundingRequest struct {
	CreateRequest
	SenderSharePercent    uint8 `json:"sender_share_percent"`
	RecipientSharePercent uint8 `json:"recipient_share_percent"`
}

// CreateResponse returns the id of a new stream.
type CreateResponse struct {
	StreamID uint64 `json:"stream_id"`
}

// AmountRequest carries a single amount.
type AmountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// MintRequest credits To with Amount.
type MintRequest struct {
	To     domain.Address  `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// FeeRequest updates the operator fee.
type FeeRequest struct {
	FeePercent uint8 `json:"fee_percent"`
}

// TokenRequest registers a token.
type TokenRequest struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// StreamResponse is the JSON form of a stream.
type StreamResponse struct {
	ID               uint64          `json:"id"`
	Sender           domain.Address  `json:"sender"`
	Recipient        domain.Address  `json:"recipient"`
	Token            string          `json:"token"`
	Deposit          decimal.Decimal `json:"deposit"`
	RatePerUnit      decimal.Decimal `json:"rate_per_unit"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	StartTime        int64           `json:"start_time"`
	StopTime         int64           `json:"stop_time"`
	CreatedAt        int64           `json:"created_at"`
	IsCompounding    bool            `json:"is_compounding"`
}

// BalanceResponse is the settlement split of a stream at a time.
type BalanceResponse struct {
	StreamID  uint64          `json:"stream_id"`
	At        int64           `json:"at"`
	Recipient decimal.Decimal `json:"recipient"`
	Sender    decimal.Decimal `json:"sender"`
}

// InterestResponse is the JSON form of an interest realization.
type InterestResponse struct {
	Growth    decimal.Decimal `json:"growth"`
	Sender    decimal.Decimal `json:"sender"`
	Recipient decimal.Decimal `json:"recipient"`
	Operator  decimal.Decimal `json:"operator"`
}

// WithdrawResponse reports a withdrawal.
type WithdrawResponse struct {
	StreamID uint64           `json:"stream_id"`
	Amount   decimal.Decimal  `json:"amount"`
	Interest InterestResponse `json:"interest"`
	Settled  bool             `json:"settled"`
}

// CancelResponse reports a cancellation.
type CancelResponse struct {
	StreamID        uint64           `json:"stream_id"`
	SenderAmount    decimal.Decimal  `json:"sender_amount"`
	RecipientAmount decimal.Decimal  `json:"recipient_amount"`
	Interest        InterestResponse `json:"interest"`
}

// CompoundingResponse is the JSON form of compounding metadata.
type CompoundingResponse struct {
	StreamID              uint64          `json:"stream_id"`
	ExchangeRateSnapshot  decimal.Decimal `json:"exchange_rate_snapshot"`
	SenderSharePercent    uint8           `json:"sender_share_percent"`
	RecipientSharePercent uint8           `json:"recipient_share_percent"`
}

func toStream(s *domain.Stream) StreamResponse {
	return StreamResponse{
		ID:               s.ID,
		Sender:           s.Sender,
		Recipient:        s.Recipient,
		Token:            s.Token,
		Deposit:          s.Deposit,
		RatePerUnit:      s.RatePerUnit,
		RemainingBalance: s.RemainingBalance,
		StartTime:        s.StartTime,
		StopTime:         s.StopTime,
		CreatedAt:        s.CreatedAt,
		IsCompounding:    s.IsCompounding,
	}
}

func toInterest(i domain.InterestSplit) InterestResponse {
	return InterestResponse{
		Growth:    i.Growth,
		Sender:    i.SenderInterest,
		Recipient: i.RecipientInterest,
		Operator:  i.OperatorInterest,
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) streamID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := pathID(r)
	if err != nil {
		badRequest(w, "invalid stream id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.eng.Create(r.Context(), req.params(caller(r)))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{StreamID: id})
}

func (s *Server) handleCreateCompounding(w http.ResponseWriter, r *http.Request) {
	var req CreateCompoundingRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.eng.CreateCompounding(r.Context(), engine.CompoundingParams{
		CreateParams:          req.params(caller(r)),
		SenderSharePercent:    req.SenderSharePercent,
		RecipientSharePercent: req.RecipientSharePercent,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateResponse{StreamID: id})
}

func (req CreateRequest) params(sender domain.Address) engine.CreateParams {
	return engine.CreateParams{
		Sender:    sender,
		Recipient: req.Recipient,
		Deposit:   req.Deposit,
		Token:     req.Token,
		StartTime: req.StartTime,
		StopTime:  req.StopTime,
	}
}

func (s *Server) handleGetStream(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	st, err := s.eng.GetStream(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStream(st))
}

// handleBalance reports the split at ?at=, defaulting to the ledger clock.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	at := s.eng.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			badRequest(w, "invalid at")
			return
		}
		at = v
	}
	sender, recipient, err := s.eng.Balances(r.Context(), id, at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{StreamID: id, At: at, Recipient: recipient, Sender: sender})
}

func (s *Server) handleGetCompounding(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	m, err := s.eng.GetCompoundingMeta(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CompoundingResponse{
		StreamID:              m.StreamID,
		ExchangeRateSnapshot:  m.ExchangeRateSnapshot,
		SenderSharePercent:    m.SenderSharePercent,
		RecipientSharePercent: m.RecipientSharePercent,
	})
}

func (s *Server) handleStreamEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "event journal not configured", Code: "not_configured"})
		return
	}
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	evs, err := s.journal.GetByStreamID(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	msgs := make([]events.Message, 0, len(evs))
	for _, e := range evs {
		msgs = append(msgs, events.ToMessage(e))
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.eng.Withdraw(r.Context(), id, caller(r), req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{
		StreamID: res.StreamID,
		Amount:   res.Amount,
		Interest: toInterest(res.Interest),
		Settled:  res.Settled,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	res, err := s.eng.Cancel(r.Context(), id, caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{
		StreamID:        res.StreamID,
		SenderAmount:    res.SenderAmount,
		RecipientAmount: res.RecipientAmount,
		Interest:        toInterest(res.Interest),
	})
}

func (s *Server) handleRealizeInterest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.streamID(w, r)
	if !ok {
		return
	}
	split, err := s.eng.RealizeInterest(r.Context(), id, caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInterest(split))
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	list, err := s.eng.ListStreamsByParticipant(r.Context(), domain.Address(r.PathValue("address")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]StreamResponse, 0, len(list))
	for _, st := range list {
		resp = append(resp, toStream(st))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decode(w, r, &req) {
		return
	}
	info := domain.TokenInfo{ID: req.ID, Symbol: req.Symbol, Decimals: req.Decimals}
	if err := s.eng.RegisterToken(r.Context(), caller(r), info); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	info, err := s.eng.Token(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TokenRequest{ID: info.ID, Symbol: info.Symbol, Decimals: info.Decimals})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req MintRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.Mint(r.Context(), caller(r), r.PathValue("token"), req.To, req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.Approve(r.Context(), caller(r), r.PathValue("token"), req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBalanceOf(w http.ResponseWriter, r *http.Request) {
	bal, err := s.eng.BalanceOf(r.Context(), r.PathValue("token"), domain.Address(r.PathValue("address")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountRequest{Amount: bal})
}

func (s *Server) handleAllowance(w http.ResponseWriter, r *http.Request) {
	allowance, err := s.eng.Allowance(r.Context(), r.PathValue("token"), domain.Address(r.PathValue("address")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountRequest{Amount: allowance})
}

func (s *Server) handleGetFee(w http.ResponseWriter, r *http.Request) {
	fee, err := s.eng.Fee(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FeeRequest{FeePercent: fee})
}

func (s *Server) handleUpdateFee(w http.ResponseWriter, r *http.Request) {
	var req FeeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.UpdateFee(r.Context(), caller(r), req.FeePercent); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListWhitelist(w http.ResponseWriter, r *http.Request) {
	list, err := s.eng.ListWhitelisted(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleIsWhitelisted(w http.ResponseWriter, r *http.Request) {
	ok, err := s.eng.IsWhitelisted(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"whitelisted": ok})
}

func (s *Server) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.WhitelistToken(r.Context(), caller(r), r.PathValue("token")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.DiscardToken(r.Context(), caller(r), r.PathValue("token")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	earned, err := s.eng.Earnings(r.Context(), r.PathValue("token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AmountRequest{Amount: earned})
}

func (s *Server) handleTakeEarnings(w http.ResponseWriter, r *http.Request) {
	var req AmountRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.eng.TakeEarnings(r.Context(), caller(r), r.PathValue("token"), req.Amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
