/*
errors.go - Domain error to HTTP response mapping

STATUS CODES:
  400 validation          ValidationError (details carry the field)
  401 unauthorized        missing or invalid bearer token
  403 forbidden           principal lacks the admin role
  404 not_found           account, product, request, ownership, ticket
  409 insufficient_funds  InsufficientFundsError (details carry balance/price)
  409 already_resolved    AlreadyResolvedError
  503 conflict            retryable store conflict
  500 internal            anything else

BODY:
  {"error": "...", "code": "...", "details": ...}

SEE ALSO:
  - points/errors.go: the taxonomy
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/points-engine/points"
	"github.com/warp/points-engine/ticket"
)

const (
	codeInvalidRequest    = "invalid_request"
	codeValidation        = "validation_failed"
	codeUnauthorized      = "unauthorized"
	codeForbidden         = "forbidden"
	codeNotFound          = "not_found"
	codeInsufficientFunds = "insufficient_funds"
	codeAlreadyResolved   = "already_resolved"
	codeConflict          = "conflict"
	codeInternal          = "internal"
)

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

type fieldDetails struct {
	Field string `json:"field"`
}

type shortfallDetails struct {
	Balance   int64 `json:"balance"`
	Price     int64 `json:"price"`
	Shortfall int64 `json:"shortfall"`
}

// statusFor classifies err. Order matters: structured errors first so
// their details survive.
func statusFor(err error) (int, ErrorResponse) {
	var (
		verr  *points.ValidationError
		short *points.InsufficientFundsError
		done  *points.AlreadyResolvedError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: verr.Error(), Code: codeValidation, Details: fieldDetails{Field: verr.Field}}
	case errors.As(err, &short):
		return http.StatusConflict, ErrorResponse{
			Error:   short.Error(),
			Code:    codeInsufficientFunds,
			Details: shortfallDetails{Balance: short.Balance, Price: short.Price, Shortfall: short.Price - short.Balance},
		}
	case errors.As(err, &done):
		return http.StatusConflict, ErrorResponse{Error: done.Error(), Code: codeAlreadyResolved, Details: map[string]string{"status": string(done.Status)}}
	case errors.Is(err, points.ErrInsufficientFunds):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: codeInsufficientFunds}
	case errors.Is(err, points.ErrRequestAlreadyResolved):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: codeAlreadyResolved}
	case errors.Is(err, points.ErrValidation):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: codeValidation}
	case errors.Is(err, points.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "admin role required", Code: codeForbidden}
	case points.IsNotFound(err) || errors.Is(err, ticket.ErrTicketNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: codeNotFound}
	case points.IsRetryable(err):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "the request conflicted with another update, try again", Code: codeConflict}
	}
	return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: codeInternal}
}

// writeDomainError maps err and writes it. Internal errors are logged with
// the request id and never echoed to the client.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Logger.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
		}).WithError(err).Error("request failed")
	}
	writeJSON(w, status, resp)
}

// writeError writes a transport-level error (bad body, bad path parameter).
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
