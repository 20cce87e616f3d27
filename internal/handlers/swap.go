package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/skillswap/internal/handlers/render"
	"github.com/nkiryanov/skillswap/internal/handlers/userctx"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/models"
)

type swapResponse struct {
	ID          uuid.UUID         `json:"id"`
	RequesterID uuid.UUID         `json:"requester_id"`
	ProviderID  uuid.UUID         `json:"provider_id"`
	Price       int64             `json:"price"`
	Status      models.SwapStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func newSwapResponse(s models.Swap) swapResponse {
	return swapResponse{
		ID:          s.ID,
		RequesterID: s.RequesterID,
		ProviderID:  s.ProviderID,
		Price:       s.Price,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		CompletedAt: s.CompletedAt,
	}
}

func handleCreateSwap(swapService swapService, l logger.Logger) http.Handler {
	type request struct {
		ProviderID string `json:"provider_id" validate:"required,uuid"`
		Price      int64  `json:"price" validate:"gte=0"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		swap, err := swapService.Create(r.Context(), user.ID, uuid.MustParse(data.ProviderID), data.Price)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newSwapResponse(swap))
	})
}

func handleListSwaps(swapService swapService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		swaps, err := swapService.List(r.Context(), user.ID)
		if err != nil {
			renderError(w, l, err)
			return
		}

		res := make([]swapResponse, 0, len(swaps))
		for _, s := range swaps {
			res = append(res, newSwapResponse(s))
		}
		render.JSON(w, res)
	})
}

func handleGetSwap(swapService swapService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		swapID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Swap not found", http.StatusNotFound)
			return
		}

		swap, err := swapService.Get(r.Context(), swapID, user.ID)
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newSwapResponse(swap))
	})
}

func handleTransitionSwap(swapService swapService, l logger.Logger) http.Handler {
	type request struct {
		Status string `json:"status" validate:"required,swapstatus"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		swapID, err := uuid.Parse(r.PathValue("id"))
		if err != nil {
			render.ServiceError(w, "Swap not found", http.StatusNotFound)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		swap, err := swapService.Transition(r.Context(), swapID, user.ID, models.SwapStatus(data.Status))
		if err != nil {
			renderError(w, l, err)
			return
		}

		render.JSON(w, newSwapResponse(swap))
	})
}
