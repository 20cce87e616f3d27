package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/skillswap/internal/handlers/render"
	"github.com/nkiryanov/skillswap/internal/handlers/userctx"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/models"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
)

func handleBalance(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Balance int64 `json:"balance"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		balance, err := ledgerService.GetBalance(r.Context(), user.ID)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, response{Balance: balance})
	})
}

func handleListTransactions(ledgerService ledgerService, l logger.Logger) http.Handler {
	type transaction struct {
		ID          uuid.UUID  `json:"id"`
		Kind        string     `json:"kind"`
		SenderID    *uuid.UUID `json:"sender_id"`
		ReceiverID  uuid.UUID  `json:"receiver_id"`
		Amount      int64      `json:"amount"`
		ReferenceID string     `json:"reference_id,omitempty"`
		CreatedAt   time.Time  `json:"created_at"`
	}

	// Empty value means default
	atoi := func(value string) (int, error) {
		if value == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(value)
		if err == nil && n < 0 {
			err = strconv.ErrRange
		}
		return n, err
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		limit, err := atoi(r.URL.Query().Get("limit"))
		if err != nil {
			render.ServiceError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		offset, err := atoi(r.URL.Query().Get("offset"))
		if err != nil {
			render.ServiceError(w, "Invalid offset", http.StatusBadRequest)
			return
		}

		kinds := r.URL.Query()["kind"]
		for _, kind := range kinds {
			if !models.ValidTransactionKind(kind) {
				render.ServiceError(w, "Invalid kind", http.StatusBadRequest)
				return
			}
		}

		tr, err := ledgerService.ListTransactions(r.Context(), user.ID, ledger.Page{Limit: limit, Offset: offset, Kinds: kinds})
		if err != nil {
			renderError(w, l, err)
			return
		}

		transactions := make([]transaction, 0, len(tr))
		for _, t := range tr {
			transactions = append(transactions, transaction{
				ID:          t.ID,
				Kind:        t.Kind,
				SenderID:    t.SenderID,
				ReceiverID:  t.ReceiverID,
				Amount:      t.Amount,
				ReferenceID: t.ReferenceID,
				CreatedAt:   t.CreatedAt,
			})
		}
		render.JSON(w, transactions)
	})
}
