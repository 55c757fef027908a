package webhook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/stripe/stripe-go/v81"
)

// ErrIgnored marks a verified event that needs no action.
var ErrIgnored = errors.New("event ignored")

var validate = validator.New()

// PaidSession is a checkout session whose payment has been captured.
type PaidSession struct {
	EventID       string
	EventType     string
	SessionID     string
	AmountTotal   int64
	Currency      string
	CustomerEmail string
	Metadata      map[string]string
}

type customerDetails struct {
	Email string `json:"email"`
}

type sessionObject struct {
	ID              string            `json:"id" validate:"required,startswith=cs_"`
	Object          string            `json:"object" validate:"eq=checkout.session"`
	PaymentStatus   string            `json:"payment_status" validate:"required"`
	AmountTotal     *int64            `json:"amount_total" validate:"required,gte=0"`
	Currency        string            `json:"currency" validate:"required,len=3"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *customerDetails  `json:"customer_details"`
}

// ParseCompleted extracts a paid checkout session from event. Other event
// types and unpaid sessions return ErrIgnored; a session object that does not
// match the expected schema returns ErrMalformedEvent.
func ParseCompleted(event stripe.Event) (*PaidSession, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return nil, fmt.Errorf("%w: type %s", ErrIgnored, event.Type)
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: event has no data object", ErrMalformedEvent)
	}

	var obj sessionObject
	if err := json.Unmarshal(event.Data.Raw, &obj); err != nil {
		return nil, fmt.Errorf("%w: decode session: %v", ErrMalformedEvent, err)
	}
	if err := validate.Struct(obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if obj.PaymentStatus != string(stripe.CheckoutSessionPaymentStatusPaid) {
		return nil, fmt.Errorf("%w: payment status %s", ErrIgnored, obj.PaymentStatus)
	}

	paid := &PaidSession{
		EventID:     event.ID,
		EventType:   string(event.Type),
		SessionID:   obj.ID,
		AmountTotal: *obj.AmountTotal,
		Currency:    obj.Currency,
		Metadata:    obj.Metadata,
	}
	if obj.CustomerDetails != nil {
		paid.CustomerEmail = obj.CustomerDetails.Email
	}

	return paid, nil
}
