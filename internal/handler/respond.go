package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON encodes v as the response body.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("failed to encode response", "error", err)
	}
}

// WriteError maps err to a status by its escrow code. Errors without a code
// are reported as 500 and their message is not exposed.
func WriteError(w http.ResponseWriter, err error) {
	code := appErrors.CodeOf(err)
	if code == "" {
		WriteJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal", Message: "internal error"})
		return
	}
	WriteJSON(w, StatusFor(code), ErrorResponse{Error: string(code), Message: err.Error()})
}

func StatusFor(code appErrors.Code) int {
	switch code {
	case appErrors.CodeUnauthorized, appErrors.CodeUnauthorizedOracle:
		return http.StatusForbidden
	case appErrors.CodeCampaignNotFound:
		return http.StatusNotFound
	case appErrors.CodeCampaignExists:
		return http.StatusConflict
	case appErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case appErrors.CodeOverflow, appErrors.CodeCampaignNotComplete, appErrors.CodeInvalidShiller,
		appErrors.CodeInsufficientBudget, appErrors.CodeInsufficientFunds:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
