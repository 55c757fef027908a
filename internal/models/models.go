package models

import (
	"time"

	"github.com/google/uuid"
)

type ProductStatus string

const (
	ProductStatusAvailable ProductStatus = "available"
	ProductStatusSold      ProductStatus = "sold"
	ProductStatusHidden    ProductStatus = "hidden"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusAvailable, ProductStatusSold, ProductStatusHidden:
		return true
	}
	return false
}

// Product prices are in minor currency units.
type Product struct {
	ID            string        `json:"id" bson:"_id"`
	Name          string        `json:"name" bson:"name"`
	PriceCents    int64         `json:"price_cents" bson:"price_cents"`
	Status        ProductStatus `json:"status" bson:"status"`
	SoldSessionID string        `json:"sold_session_id,omitempty" bson:"sold_session_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" bson:"updated_at"`
	Version       int           `json:"version" bson:"version"`
}

// Transition is the result of a conditional available->sold update.
type Transition string

const (
	// TransitionSold means this call moved the product to sold.
	TransitionSold Transition = "sold"
	// TransitionAlreadyApplied means the product was already sold to the same session.
	TransitionAlreadyApplied Transition = "already_applied"
	// TransitionUnavailable means the product was sold elsewhere or hidden.
	TransitionUnavailable Transition = "unavailable"
	TransitionMissing     Transition = "missing"
	// TransitionFailed means the store write did not complete.
	TransitionFailed Transition = "failed"
)

// Fulfilled reports whether the session holds the product after the transition.
func (t Transition) Fulfilled() bool {
	return t == TransitionSold || t == TransitionAlreadyApplied
}

type Fulfillment string

const (
	FulfillmentComplete Fulfillment = "complete"
	FulfillmentPartial  Fulfillment = "partial"
	FulfillmentNone     Fulfillment = "none"
)

func (f Fulfillment) Valid() bool {
	switch f {
	case FulfillmentComplete, FulfillmentPartial, FulfillmentNone:
		return true
	}
	return false
}

const OrderStatusPaid = "paid"

type Order struct {
	ID                uuid.UUID   `json:"id" bson:"order_id"`
	CheckoutSessionID string      `json:"checkout_session_id" bson:"_id"`
	Status            string      `json:"status" bson:"status"`
	ShippingZone      string      `json:"shipping_zone" bson:"shipping_zone"`
	AmountTotal       int64       `json:"amount_total" bson:"amount_total"`
	Currency          string      `json:"currency" bson:"currency"`
	CustomerEmail     string      `json:"customer_email,omitempty" bson:"customer_email,omitempty"`
	Fulfillment       Fulfillment `json:"fulfillment" bson:"fulfillment"`
	Items             []OrderItem `json:"items" bson:"items"`
	CreatedAt         time.Time   `json:"created_at" bson:"created_at"`
	PublishedAt       *time.Time  `json:"published_at,omitempty" bson:"published_at,omitempty"`
}

type OrderItem struct {
	ProductID  string     `json:"product_id" bson:"product_id"`
	Name       string     `json:"name" bson:"name"`
	Quantity   int        `json:"quantity" bson:"quantity"`
	UnitPrice  int64      `json:"unit_price" bson:"unit_price"`
	Subtotal   int64      `json:"subtotal" bson:"subtotal"`
	Transition Transition `json:"transition" bson:"transition"`
	Fulfilled  bool       `json:"fulfilled" bson:"fulfilled"`
}

// FulfillmentOf derives the order-level fulfillment from its items.
func FulfillmentOf(items []OrderItem) Fulfillment {
	fulfilled := 0
	for _, item := range items {
		if item.Fulfilled {
			fulfilled++
		}
	}

	switch {
	case fulfilled == len(items) && fulfilled > 0:
		return FulfillmentComplete
	case fulfilled == 0:
		return FulfillmentNone
	default:
		return FulfillmentPartial
	}
}
