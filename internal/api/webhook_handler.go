package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/safar/storefront/internal/webhook"
	"github.com/sirupsen/logrus"
)

const reconcileTimeout = 15 * time.Second

type webhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome,omitempty"`
}

// stripeWebhook answers 400 only when the delivery cannot be authenticated.
// Every verified delivery is acknowledged with 200, whatever happens next,
// so the gateway does not retry conditions a retry cannot fix.
func (h *handlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.MaxBodyBytes))
	if err != nil {
		h.Log.WithError(err).Warn("webhook body unreadable")
		respondError(w, http.StatusBadRequest, "Invalid request")
		return
	}

	event, err := h.Verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, webhook.ErrInvalidSignature) {
			h.Log.WithField("remote", r.RemoteAddr).Warn("webhook signature rejected")
			respondError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		h.Log.WithError(err).WithField("condition", "malformed_event").Warn("signed webhook body could not be parsed")
		respondJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	log := h.Log.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	paid, err := webhook.ParseCompleted(event)
	if err != nil {
		if errors.Is(err, webhook.ErrIgnored) {
			log.WithError(err).Debug("webhook event ignored")
		} else {
			log.WithError(err).WithField("condition", "malformed_event").Warn("checkout session event failed schema validation")
		}
		respondJSON(w, http.StatusOK, webhookResponse{Received: true})
		return
	}

	// Reconciliation must finish even if the gateway hangs up.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), reconcileTimeout)
	defer cancel()

	result := h.Reconciler.Reconcile(ctx, paid)

	respondJSON(w, http.StatusOK, webhookResponse{Received: true, Outcome: string(result.Outcome)})
}
