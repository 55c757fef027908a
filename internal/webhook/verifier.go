package webhook

import (
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedEvent is a correctly signed body that is not a usable event.
	ErrMalformedEvent = errors.New("malformed webhook event")
)

// Verifier authenticates Stripe webhook deliveries against the endpoint secret.
type Verifier struct {
	secret    string
	tolerance time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: secret, tolerance: stripewebhook.DefaultTolerance}
}

// Verify checks the Stripe-Signature header over the raw body and parses the
// event. Signature problems of any kind are reported as ErrInvalidSignature
// without detail.
func (v *Verifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if header == "" || v.secret == "" {
		return stripe.Event{}, ErrInvalidSignature
	}

	event, err := stripewebhook.ConstructEventWithOptions(payload, header, v.secret, stripewebhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return stripe.Event{}, ErrInvalidSignature
		}
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	return event, nil
}

func isSignatureError(err error) bool {
	return errors.Is(err, stripewebhook.ErrNotSigned) ||
		errors.Is(err, stripewebhook.ErrInvalidHeader) ||
		errors.Is(err, stripewebhook.ErrNoValidSignature) ||
		errors.Is(err, stripewebhook.ErrTooOld)
}
