package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/reconcile"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/webhook"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v81"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type CheckoutService interface {
	CreateCheckout(ctx context.Context, req checkout.CartRequest) (*checkout.Result, error)
}

type EventVerifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, paid *webhook.PaidSession) *reconcile.Result
}

type OrderReader interface {
	GetOrderBySession(ctx context.Context, sessionID string) (*models.Order, error)
	ListOrders(ctx context.Context, fulfillment models.Fulfillment, cursor string, limit int) (*store.CursorPage, error)
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Checkout   CheckoutService
	Verifier   EventVerifier
	Reconciler Reconciler
	Orders     OrderReader
	// RateLimit wraps the session creation route. Nil means unlimited.
	RateLimit    func(http.Handler) http.Handler
	AdminToken   string
	MaxBodyBytes int64
	// TrustProxy enables chi's RealIP. Without it the rate limit keys on the
	// TCP peer address, which clients cannot forge.
	TrustProxy   bool
	Log          logrus.FieldLogger
}

type handlers struct {
	Dependencies
}

func NewRouter(deps Dependencies) http.Handler {
	if deps.RateLimit == nil {
		deps.RateLimit = func(next http.Handler) http.Handler { return next }
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 64 << 10
	}
	h := &handlers{Dependencies: deps}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if deps.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(requestLogger(deps.Log))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)

	r.Route("/api", func(r chi.Router) {
		r.With(deps.RateLimit).Post("/checkout/sessions", h.createCheckoutSession)
		r.Post("/webhooks/stripe", h.stripeWebhook)

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth(deps.AdminToken))
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{sessionID}", h.getOrder)
		})
	})

	return otelhttp.NewHandler(r, "storefront.http")
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.Orders.Ping(r.Context()); err != nil {
		h.Log.WithError(err).Warn("health check: store unreachable")
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
