package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/handlers/render"
	"github.com/nkiryanov/skillswap/internal/logger"
)

// Render ledger and swap errors. Unexpected ones are logged, client gets no details
func renderError(w http.ResponseWriter, l logger.Logger, err error) {
	switch {
	case errors.Is(err, apperrors.ErrInsufficientFunds):
		render.ServiceError(w, "Insufficient credits", http.StatusPaymentRequired)
	case errors.Is(err, apperrors.ErrUnauthorized):
		render.ServiceError(w, "Not allowed to change this swap", http.StatusForbidden)
	case errors.Is(err, apperrors.ErrInvalidStateTransition):
		render.ServiceError(w, "Swap state transition is not allowed", http.StatusConflict)
	case errors.Is(err, apperrors.ErrInvalidAmount):
		render.ServiceError(w, "Invalid amount", http.StatusUnprocessableEntity)
	case errors.Is(err, apperrors.ErrSelfTransfer):
		render.ServiceError(w, "Can't swap with yourself", http.StatusUnprocessableEntity)
	case errors.Is(err, apperrors.ErrSwapNotFound):
		render.ServiceError(w, "Swap not found", http.StatusNotFound)
	case errors.Is(err, apperrors.ErrAccountNotFound):
		render.ServiceError(w, "Account not found", http.StatusNotFound)
	case apperrors.IsTransient(err):
		l.Warn("Request failed with transient error", "error", err)
		render.ServiceError(w, "Temporarily unavailable, try again", http.StatusServiceUnavailable)
	default:
		l.Error("Request failed", "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}
