package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
)

func (h *handlers) listOrders(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	fulfillment := models.Fulfillment(query.Get("fulfillment"))
	if fulfillment != "" && !fulfillment.Valid() {
		respondError(w, http.StatusBadRequest, "fulfillment must be complete, partial or none")
		return
	}

	cursor := query.Get("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid cursor")
		return
	}

	limit, _ := strconv.Atoi(query.Get("limit"))
	limit = store.ClampLimit(limit)

	page, err := h.Orders.ListOrders(r.Context(), fulfillment, cursor, limit)
	if err != nil {
		h.Log.WithError(err).Error("list orders")
		respondError(w, http.StatusInternalServerError, "Could not list orders")
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (h *handlers) getOrder(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	order, err := h.Orders.GetOrderBySession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, database.ErrOrderNotFound) {
			respondError(w, http.StatusNotFound, "Order not found")
			return
		}
		h.Log.WithError(err).WithField("session_id", sessionID).Error("get order")
		respondError(w, http.StatusInternalServerError, "Could not load order")
		return
	}

	respondJSON(w, http.StatusOK, order)
}
