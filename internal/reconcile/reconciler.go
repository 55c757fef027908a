package reconcile

import (
	"context"
	"errors"

	"github.com/safar/storefront/internal/checkout"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/webhook"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store is the subset of the storefront store the reconciler writes through.
type Store interface {
	GetProducts(ctx context.Context, ids []string) (map[string]*models.Product, error)
	MarkSold(ctx context.Context, productID, sessionID string) (models.Transition, error)
	OrderExists(ctx context.Context, sessionID string) (bool, error)
	CreateOrder(ctx context.Context, order *models.Order) error
}

type Outcome string

const (
	// OutcomeApplied means every line was fulfilled and the order recorded.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means an order for the session already existed.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomePartial means the order was recorded with some lines unfulfilled.
	OutcomePartial Outcome = "partial"
	// OutcomeUnfulfilled means the order was recorded but no line could be fulfilled.
	OutcomeUnfulfilled Outcome = "unfulfilled"
	OutcomeMalformed   Outcome = "malformed"
	// OutcomeFailed means a store error stopped reconciliation; an operator must follow up.
	OutcomeFailed Outcome = "failed"
)

// Values of the "condition" log field. Operators alert on these.
const (
	ConditionPartialFulfillment   = "partial_fulfillment"
	ConditionUnfulfilled          = "unfulfilled"
	ConditionManualReconciliation = "manual_reconciliation"
	ConditionMalformedMetadata    = "malformed_metadata"
	ConditionDuplicateDelivery    = "duplicate_delivery"
	ConditionAmountMismatch       = "amount_mismatch"
)

type Result struct {
	Outcome Outcome
	Order   *models.Order
}

type Reconciler struct {
	store  Store
	log    logrus.FieldLogger
	tracer trace.Tracer
}

func New(store Store, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{
		store:  store,
		log:    log,
		tracer: otel.Tracer("github.com/safar/storefront/internal/reconcile"),
	}
}

// Reconcile applies a paid checkout session: each product moves from
// available to sold at most once, and at most one order is recorded per
// session. It never returns an error; failures are reported in the outcome
// and logged with a condition field for follow-up.
func (r *Reconciler) Reconcile(ctx context.Context, paid *webhook.PaidSession) *Result {
	ctx, span := r.tracer.Start(ctx, "reconcile.checkout_session",
		trace.WithAttributes(
			attribute.String("checkout.session_id", paid.SessionID),
			attribute.String("stripe.event_id", paid.EventID),
		))
	defer span.End()

	log := r.log.WithFields(logrus.Fields{
		"session_id": paid.SessionID,
		"event_id":   paid.EventID,
	})

	result := r.reconcile(ctx, paid, log)

	span.SetAttributes(attribute.String("reconcile.outcome", string(result.Outcome)))
	if result.Outcome == OutcomeFailed {
		span.SetStatus(codes.Error, "reconciliation failed")
	}

	return result
}

func (r *Reconciler) reconcile(ctx context.Context, paid *webhook.PaidSession, log logrus.FieldLogger) *Result {
	intent, err := checkout.DecodeIntent(paid.Metadata)
	if err != nil {
		log.WithError(err).
			WithField("condition", ConditionMalformedMetadata).
			Warn("paid session carries unreadable order metadata")
		return &Result{Outcome: OutcomeMalformed}
	}

	exists, err := r.store.OrderExists(ctx, paid.SessionID)
	if err != nil {
		log.WithError(err).
			WithField("condition", ConditionManualReconciliation).
			Error("check existing order")
		return &Result{Outcome: OutcomeFailed}
	}
	if exists {
		log.WithField("condition", ConditionDuplicateDelivery).Info("order already recorded")
		return &Result{Outcome: OutcomeDuplicate}
	}

	products, err := r.store.GetProducts(ctx, intent.ProductIDs())
	if err != nil {
		log.WithError(err).
			WithField("condition", ConditionManualReconciliation).
			Error("load products for paid session")
		return &Result{Outcome: OutcomeFailed}
	}

	items, failed := r.applyLines(ctx, paid.SessionID, intent, products, log)
	r.checkAmount(paid, intent, products, log)

	order := &models.Order{
		CheckoutSessionID: paid.SessionID,
		Status:            models.OrderStatusPaid,
		ShippingZone:      string(intent.Zone),
		AmountTotal:       paid.AmountTotal,
		Currency:          paid.Currency,
		CustomerEmail:     paid.CustomerEmail,
		Fulfillment:       models.FulfillmentOf(items),
		Items:             items,
	}

	if err := r.store.CreateOrder(ctx, order); err != nil {
		if errors.Is(err, database.ErrOrderExists) {
			log.WithField("condition", ConditionDuplicateDelivery).Info("order recorded by a concurrent delivery")
			return &Result{Outcome: OutcomeDuplicate}
		}
		log.WithError(err).WithFields(logrus.Fields{
			"condition":     ConditionManualReconciliation,
			"sold_products": soldProductIDs(items),
		}).Error("record order after inventory transition")
		return &Result{Outcome: OutcomeFailed}
	}

	if len(failed) > 0 {
		log.WithFields(logrus.Fields{
			"condition": ConditionManualReconciliation,
			"order_id":  order.ID,
			"products":  failed,
		}).Error("inventory update failed for some lines")
	}

	outcome := outcomeOf(order.Fulfillment)
	entry := log.WithFields(logrus.Fields{
		"order_id":    order.ID,
		"fulfillment": order.Fulfillment,
		"amount":      order.AmountTotal,
	})

	switch outcome {
	case OutcomePartial:
		entry.WithFields(logrus.Fields{
			"condition":   ConditionPartialFulfillment,
			"unfulfilled": unfulfilledProductIDs(items),
		}).Warn("order recorded with unfulfilled lines")
	case OutcomeUnfulfilled:
		entry.WithField("condition", ConditionUnfulfilled).Warn("order recorded but no line could be fulfilled")
	default:
		entry.Info("order recorded")
	}

	return &Result{Outcome: outcome, Order: order}
}

// applyLines runs one conditional update per line. Lines are independent:
// a lost or failed line does not undo the others.
func (r *Reconciler) applyLines(ctx context.Context, sessionID string, intent checkout.Intent, products map[string]*models.Product, log logrus.FieldLogger) ([]models.OrderItem, []string) {
	items := make([]models.OrderItem, 0, len(intent.Lines))
	var failed []string

	for _, line := range intent.Lines {
		item := models.OrderItem{
			ProductID: line.ProductID,
			Quantity:  line.Quantity,
		}
		if product, ok := products[line.ProductID]; ok {
			item.Name = product.Name
			item.UnitPrice = product.PriceCents
			item.Subtotal = product.PriceCents * int64(line.Quantity)
		}

		transition, err := r.store.MarkSold(ctx, line.ProductID, sessionID)
		if err != nil {
			log.WithError(err).WithField("product_id", line.ProductID).Error("mark product sold")
			transition = models.TransitionFailed
			failed = append(failed, line.ProductID)
		}

		item.Transition = transition
		item.Fulfilled = transition.Fulfilled()
		items = append(items, item)
	}

	return items, failed
}

func (r *Reconciler) checkAmount(paid *webhook.PaidSession, intent checkout.Intent, products map[string]*models.Product, log logrus.FieldLogger) {
	expected := intent.Zone.Cost()
	for _, line := range intent.Lines {
		product, ok := products[line.ProductID]
		if !ok {
			return
		}
		expected += product.PriceCents * int64(line.Quantity)
	}

	if expected != paid.AmountTotal {
		log.WithFields(logrus.Fields{
			"condition": ConditionAmountMismatch,
			"expected":  expected,
			"paid":      paid.AmountTotal,
		}).Warn("paid amount differs from current catalog prices")
	}
}

func outcomeOf(f models.Fulfillment) Outcome {
	switch f {
	case models.FulfillmentComplete:
		return OutcomeApplied
	case models.FulfillmentPartial:
		return OutcomePartial
	default:
		return OutcomeUnfulfilled
	}
}

func soldProductIDs(items []models.OrderItem) []string {
	var ids []string
	for _, item := range items {
		if item.Transition == models.TransitionSold {
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

func unfulfilledProductIDs(items []models.OrderItem) []string {
	var ids []string
	for _, item := range items {
		if !item.Fulfilled {
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}
