package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeGateway opens Stripe Checkout sessions behind a circuit breaker.
type StripeGateway struct {
	sc      *client.API
	breaker *gobreaker.CircuitBreaker[*stripe.CheckoutSession]
}

func NewStripeGateway(cfg config.StripeConfig, log logrus.FieldLogger) *StripeGateway {
	var backends *stripe.Backends
	if cfg.APIURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(cfg.APIURL),
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	breaker := gobreaker.NewCircuitBreaker[*stripe.CheckoutSession](gobreaker.Settings{
		Name:        "stripe-checkout",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: gatewayHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})

	return &StripeGateway{
		sc:      client.New(cfg.SecretKey, backends),
		breaker: breaker,
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	params := buildSessionParams(req)
	params.Context = ctx

	cs, err := g.breaker.Execute(func() (*stripe.CheckoutSession, error) {
		return g.sc.CheckoutSessions.New(params)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrGatewayUnavailable
		}
		if !gatewayHealthy(err) {
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
		}
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	return &Session{ID: cs.ID, URL: cs.URL}, nil
}

func buildSessionParams(req *SessionRequest) *stripe.CheckoutSessionParams {
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		ExpiresAt:  stripe.Int64(req.ExpiresAt.Unix()),
	}

	for _, line := range req.Lines {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(int64(line.Quantity)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(req.Currency),
				UnitAmount: stripe.Int64(line.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Name),
				},
			},
		})
	}

	for key, value := range req.Metadata {
		params.AddMetadata(key, value)
	}

	return params
}

// gatewayHealthy reports whether err leaves the gateway in good standing.
// Rejected requests do; outages and rate limiting do not.
func gatewayHealthy(err error) bool {
	if err == nil {
		return true
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeCard, stripe.ErrorTypeIdempotency:
			return stripeErr.HTTPStatusCode != 429
		}
	}

	return false
}
