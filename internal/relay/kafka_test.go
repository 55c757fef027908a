package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/config"
	"github.com/safar/storefront/internal/models"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

func setupKafka(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}

	ctx := context.Background()
	container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate kafka container: %v", err)
		}
	})

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers)

	return brokers[0]
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkago.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil {
		t.Logf("create topic %s: %v", topic, err)
	}
}

func TestRelayPublishesToKafka(t *testing.T) {
	broker := setupKafka(t)
	const topic = "storefront-orders-test"
	createTopic(t, broker, topic)

	cfg := config.KafkaConfig{
		Brokers:      []string{broker},
		Topic:        topic,
		PollInterval: 200 * time.Millisecond,
		BatchSize:    10,
	}

	source := &mockSource{}
	for n := 0; n < 3; n++ {
		source.orders = append(source.orders, &models.Order{
			ID:                uuid.New(),
			CheckoutSessionID: fmt.Sprintf("cs_kafka_%d", n),
			Status:            models.OrderStatusPaid,
			Fulfillment:       models.FulfillmentComplete,
			AmountTotal:       3500,
			Currency:          "eur",
			CreatedAt:         time.Now().UTC(),
		})
	}

	writer := NewKafkaWriter(cfg)
	writer.WriteTimeout = 10 * time.Second
	defer writer.Close()

	log, _ := test.NewNullLogger()
	r := New(source, writer, cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := r.PublishPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, source.published, 3)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:  []string{broker},
		Topic:    topic,
		GroupID:  "storefront-relay-test",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	seen := map[string]bool{}
	for len(seen) < 3 {
		msg, err := reader.ReadMessage(ctx)
		require.NoError(t, err)

		var event orderPaidEvent
		require.NoError(t, json.Unmarshal(msg.Value, &event))
		assert.Equal(t, EventOrderPaid, event.Event)
		assert.Equal(t, string(msg.Key), event.Order.CheckoutSessionID)
		seen[string(msg.Key)] = true
	}

	n, err = r.PublishPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "published orders are not sent again")
}
