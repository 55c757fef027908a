package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/models"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

const EventOrderPaid = "order.paid"

type OrderSource interface {
	ListUnpublishedOrders(ctx context.Context, limit int) ([]*models.Order, error)
	MarkOrderPublished(ctx context.Context, sessionID string) error
}

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay copies recorded orders to Kafka. Delivery is at least once; consumers
// dedupe on the message key, which is the checkout session id.
type Relay struct {
	source    OrderSource
	writer    MessageWriter
	interval  time.Duration
	batchSize int
	log       logrus.FieldLogger
}

func NewKafkaWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 100
)

// New builds a relay. Non-positive poll intervals and batch sizes fall back
// to the defaults.
func New(source OrderSource, writer MessageWriter, cfg config.KafkaConfig, log logrus.FieldLogger) *Relay {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	batchSize := cfg.BatchSize
	if batchSize < 1 {
		batchSize = defaultBatchSize
	}

	return &Relay{
		source:    source,
		writer:    writer,
		interval:  interval,
		batchSize: batchSize,
		log:       log,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.PublishPending(ctx); err != nil {
				r.log.WithError(err).Error("relay pass failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

type orderPaidEvent struct {
	Event     string        `json:"event"`
	Order     *models.Order `json:"order"`
	Timestamp time.Time     `json:"timestamp"`
}

// PublishPending sends one batch of unpublished orders and returns how many
// were marked published. A failed write stops the pass so order is kept.
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	orders, err := r.source.ListUnpublishedOrders(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch unpublished orders: %w", err)
	}

	published := 0
	for _, order := range orders {
		msg, err := orderMessage(order)
		if err != nil {
			r.log.WithError(err).WithField("session_id", order.CheckoutSessionID).Error("encode order event")
			continue
		}

		if err := r.writer.WriteMessages(ctx, msg); err != nil {
			return published, fmt.Errorf("publish order %s: %w", order.CheckoutSessionID, err)
		}

		if err := r.source.MarkOrderPublished(ctx, order.CheckoutSessionID); err != nil {
			r.log.WithError(err).WithField("session_id", order.CheckoutSessionID).Warn("order published but not marked, it will be sent again")
			continue
		}
		published++
	}

	if published > 0 {
		r.log.WithField("count", published).Info("orders published")
	}

	return published, nil
}

func orderMessage(order *models.Order) (kafka.Message, error) {
	payload, err := json.Marshal(orderPaidEvent{
		Event:     EventOrderPaid,
		Order:     order,
		Timestamp: order.CreatedAt,
	})
	if err != nil {
		return kafka.Message{}, err
	}

	return kafka.Message{
		Key:   []byte(order.CheckoutSessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventOrderPaid)},
			{Key: "fulfillment", Value: []byte(order.Fulfillment)},
		},
	}, nil
}
