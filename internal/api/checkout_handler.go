package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/safar/storefront/internal/checkout"
)

type validationResponse struct {
	Error    string             `json:"error"`
	Problems []checkout.Problem `json:"problems"`
}

func (h *handlers) createCheckoutSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)

	var req checkout.CartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.Checkout.CreateCheckout(r.Context(), req)
	if err != nil {
		var verr *checkout.ValidationError
		switch {
		case errors.As(err, &verr):
			respondJSON(w, http.StatusUnprocessableEntity, validationResponse{
				Error:    "cart validation failed",
				Problems: verr.Problems,
			})
		case errors.Is(err, checkout.ErrMetadataTooLarge):
			respondJSON(w, http.StatusUnprocessableEntity, validationResponse{
				Error:    "cart validation failed",
				Problems: []checkout.Problem{{Field: "items", Message: "cart is too large to check out at once"}},
			})
		case errors.Is(err, checkout.ErrGatewayUnavailable):
			h.Log.WithError(err).Warn("checkout session not created: gateway unavailable")
			respondError(w, http.StatusServiceUnavailable, "Payment provider unavailable, please retry")
		default:
			h.Log.WithError(err).Error("create checkout session")
			respondError(w, http.StatusInternalServerError, "Could not start checkout")
		}
		return
	}

	respondJSON(w, http.StatusCreated, result)
}
