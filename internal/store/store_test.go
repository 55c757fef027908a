package store_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(ctx))
	require.NoError(t, database.RunMigrations(db, "../../migrations", database.MigrateUp))

	return db
}

func TestGetProducts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := store.CreateProduct(ctx, db, "P1", "Vase", 1000, models.ProductStatusAvailable)
	require.NoError(t, err)
	_, err = store.CreateProduct(ctx, db, "P2", "Bowl", 2500, models.ProductStatusSold)
	require.NoError(t, err)

	products, err := store.GetProducts(ctx, db, []string{"P1", "P2", "P404"})
	require.NoError(t, err)

	require.Len(t, products, 2)
	assert.Equal(t, int64(1000), products["P1"].PriceCents)
	assert.Equal(t, models.ProductStatusSold, products["P2"].Status)
	assert.NotContains(t, products, "P404")

	_, err = store.GetProduct(ctx, db, "P404")
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func TestMarkSoldTransitions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := store.CreateProduct(ctx, db, "P1", "Vase", 1000, models.ProductStatusAvailable)
	require.NoError(t, err)
	_, err = store.CreateProduct(ctx, db, "P3", "Hidden lamp", 900, models.ProductStatusHidden)
	require.NoError(t, err)

	transition, err := store.MarkSold(ctx, db, "P1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionSold, transition)

	transition, err = store.MarkSold(ctx, db, "P1", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionAlreadyApplied, transition)

	transition, err = store.MarkSold(ctx, db, "P1", "cs_2")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionUnavailable, transition)

	transition, err = store.MarkSold(ctx, db, "P3", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionUnavailable, transition)

	transition, err = store.MarkSold(ctx, db, "P404", "cs_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransitionMissing, transition)

	product, err := store.GetProduct(ctx, db, "P1")
	require.NoError(t, err)
	assert.Equal(t, models.ProductStatusSold, product.Status)
	assert.Equal(t, "cs_1", product.SoldSessionID)
	assert.Equal(t, 2, product.Version)
}

func TestConcurrentMarkSold(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := store.CreateProduct(ctx, db, "P1", "Vase", 1000, models.ProductStatusAvailable)
	require.NoError(t, err)

	concurrency := 10
	var wg sync.WaitGroup
	results := make(chan models.Transition, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(session string) {
			defer wg.Done()

			transition, err := store.MarkSold(ctx, db, "P1", session)
			if err != nil {
				t.Errorf("Mark sold: %v", err)
				return
			}
			results <- transition
		}("cs_" + string(rune('a'+i)))
	}

	wg.Wait()
	close(results)

	counts := map[models.Transition]int{}
	for transition := range results {
		counts[transition]++
	}

	assert.Equal(t, 1, counts[models.TransitionSold])
	assert.Equal(t, concurrency-1, counts[models.TransitionUnavailable])
}

func TestSetStatus(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := store.CreateProduct(ctx, db, "P1", "Vase", 1000, models.ProductStatusAvailable)
	require.NoError(t, err)

	require.NoError(t, store.SetStatus(ctx, db, "P1", models.ProductStatusAvailable, models.ProductStatusHidden))

	err = store.SetStatus(ctx, db, "P1", models.ProductStatusAvailable, models.ProductStatusHidden)
	assert.ErrorIs(t, err, database.ErrStatusConflict)

	err = store.SetStatus(ctx, db, "P1", models.ProductStatusHidden, models.ProductStatusSold)
	assert.ErrorIs(t, err, database.ErrIllegalTransition)

	err = store.SetStatus(ctx, db, "P404", models.ProductStatusAvailable, models.ProductStatusHidden)
	assert.ErrorIs(t, err, database.ErrProductNotFound)
}

func newOrder(sessionID string) *models.Order {
	items := []models.OrderItem{
		{ProductID: "P1", Name: "Vase", Quantity: 2, UnitPrice: 1000, Subtotal: 2000, Transition: models.TransitionSold, Fulfilled: true},
		{ProductID: "P2", Name: "Bowl", Quantity: 1, UnitPrice: 2500, Subtotal: 2500, Transition: models.TransitionUnavailable},
	}
	return &models.Order{
		CheckoutSessionID: sessionID,
		Status:            models.OrderStatusPaid,
		ShippingZone:      "FR",
		AmountTotal:       6000,
		Currency:          "eur",
		CustomerEmail:     "buyer@example.com",
		Fulfillment:       models.FulfillmentOf(items),
		Items:             items,
	}
}

func TestCreateOrderOncePerSession(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := newOrder("cs_1")
	require.NoError(t, store.CreateOrder(ctx, db, first))
	assert.False(t, first.CreatedAt.IsZero())

	second := newOrder("cs_1")
	second.AmountTotal = 1
	err := store.CreateOrder(ctx, db, second)
	assert.ErrorIs(t, err, database.ErrOrderExists)

	exists, err := store.OrderExists(ctx, db, "cs_1")
	require.NoError(t, err)
	assert.True(t, exists)

	order, err := store.GetOrderBySession(ctx, db, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, order.ID)
	assert.Equal(t, int64(6000), order.AmountTotal)
	assert.Equal(t, models.FulfillmentPartial, order.Fulfillment)
	require.Len(t, order.Items, 2)
	assert.Equal(t, "P1", order.Items[0].ProductID)
	assert.False(t, order.Items[1].Fulfilled)

	_, err = store.GetOrderBySession(ctx, db, "cs_404")
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}

func TestConcurrentCreateOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	concurrency := 8
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.CreateOrder(ctx, db, newOrder("cs_race"))
		}()
	}

	wg.Wait()
	close(results)

	created, duplicates := 0, 0
	for err := range results {
		switch {
		case err == nil:
			created++
		case errors.Is(err, database.ErrOrderExists):
			duplicates++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, created)
	assert.Equal(t, concurrency-1, duplicates)
}

func TestListOrdersCursor(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		order := newOrder("cs_page_" + string(rune('a'+i)))
		if i%3 == 0 {
			order.Items[1].Fulfilled = true
			order.Fulfillment = models.FulfillmentOf(order.Items)
		}
		require.NoError(t, store.CreateOrder(ctx, db, order))
	}

	page1, err := store.ListOrdersCursor(ctx, db, "", "", 10)
	require.NoError(t, err)
	assert.True(t, page1.HasMore)
	assert.NotEmpty(t, page1.NextCursor)

	page2, err := store.ListOrdersCursor(ctx, db, "", page1.NextCursor, 10)
	require.NoError(t, err)
	assert.False(t, page2.HasMore)
	assert.Len(t, page2.Items, 5)

	partial, err := store.ListOrdersCursor(ctx, db, models.FulfillmentPartial, "", 100)
	require.NoError(t, err)
	assert.Len(t, partial.Items, 10)
}

func TestUnpublishedOrders(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, store.CreateOrder(ctx, db, newOrder("cs_1")))
	require.NoError(t, store.CreateOrder(ctx, db, newOrder("cs_2")))

	orders, err := store.ListUnpublishedOrders(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Len(t, orders[0].Items, 2)

	require.NoError(t, store.MarkOrderPublished(ctx, db, "cs_1"))
	require.NoError(t, store.MarkOrderPublished(ctx, db, "cs_1"))

	orders, err = store.ListUnpublishedOrders(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "cs_2", orders[0].CheckoutSessionID)
}
