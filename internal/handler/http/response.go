package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"fundflow/internal/domain"
)

type apiError struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{Status: "error", Code: code, Message: message})
}

// writeDomainError maps service errors onto the API error envelope.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapDomainError(err)
	body := apiError{Status: "error", Code: code, Message: message}

	var denied *domain.VotingNotAllowedError
	if errors.As(err, &denied) {
		body.Reason = string(denied.Reason)
	}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"path", r.URL.Path,
			"request_id", requestIDFromContext(r.Context()),
			"error", err,
		)
	}
	writeJSON(w, status, body)
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "not allowed for this user"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, domain.ErrVotingNotAllowed):
		return http.StatusForbidden, "VOTING_NOT_ALLOWED", err.Error()
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "amount exceeds the campaign's available balance"
	case errors.Is(err, domain.ErrKycIncomplete):
		return http.StatusUnprocessableEntity, "KYC_INCOMPLETE", "verified bank details are required"
	case errors.Is(err, domain.ErrAttemptsExhausted):
		return http.StatusConflict, "ATTEMPTS_EXHAUSTED", "failed refunds reached the attempt limit"
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE", err.Error()
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict, "CONCURRENT_UPDATE", "resource was modified concurrently, retry"
	case errors.Is(err, domain.ErrDuplicateOperation):
		return http.StatusConflict, "DUPLICATE_OPERATION", err.Error()
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway, "GATEWAY_ERROR", err.Error()
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
