package api

import (
	"errors"
	"net/http"

	"token-stream-ledger/internal/engine"
)

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var categories = []struct {
	err    error
	status int
	code   string
}{
	{engine.ErrNotFound, http.StatusNotFound, "not_found"},
	{engine.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{engine.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{engine.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{engine.ErrAlreadyInState, http.StatusConflict, "already_in_state"},
	{engine.ErrNotInState, http.StatusConflict, "not_in_state"},
	{engine.ErrTokenTransferFailed, http.StatusBadGateway, "token_transfer_failed"},
	{engine.ErrOracleUnavailable, http.StatusServiceUnavailable, "oracle_unavailable"},
}

// statusFor maps an engine error to an HTTP status and a stable code.
func statusFor(err error) (int, string) {
	for _, c := range categories {
		if errors.Is(err, c.err) {
			return c.status, c.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("%s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg, Code: "bad_request"})
}
