package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
)

const orderColumns = `id, checkout_session_id, status, shipping_zone, amount_total, currency,
	COALESCE(customer_email, ''), fulfillment, created_at, published_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func scanOrder(row rowScanner, order *models.Order) error {
	var publishedAt sql.NullTime
	err := row.Scan(
		&order.ID,
		&order.CheckoutSessionID,
		&order.Status,
		&order.ShippingZone,
		&order.AmountTotal,
		&order.Currency,
		&order.CustomerEmail,
		&order.Fulfillment,
		&order.CreatedAt,
		&publishedAt,
	)
	if err != nil {
		return err
	}
	if publishedAt.Valid {
		order.PublishedAt = &publishedAt.Time
	}
	return nil
}

func OrderExists(ctx context.Context, db *sql.DB, sessionID string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE checkout_session_id = $1)",
		sessionID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order exists: %w", err)
	}
	return exists, nil
}

// CreateOrder records the order for a checkout session exactly once. A second
// call for the same session returns database.ErrOrderExists and leaves the
// first record untouched.
func CreateOrder(ctx context.Context, db *sql.DB, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	return database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var createdAt time.Time
		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (id, checkout_session_id, status, shipping_zone, amount_total,
			                     currency, customer_email, fulfillment, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, NOW())
			 ON CONFLICT (checkout_session_id) DO NOTHING
			 RETURNING created_at`,
			order.ID, order.CheckoutSessionID, order.Status, order.ShippingZone, order.AmountTotal,
			order.Currency, order.CustomerEmail, order.Fulfillment).Scan(&createdAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return database.ErrOrderExists
			}
			if database.IsUniqueViolation(err) {
				return database.ErrOrderExists
			}
			return fmt.Errorf("create order: %w", err)
		}

		for i, item := range order.Items {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, position, product_id, name, quantity,
				                          unit_price, subtotal, transition, fulfilled)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				order.ID, i, item.ProductID, item.Name, item.Quantity,
				item.UnitPrice, item.Subtotal, item.Transition, item.Fulfilled)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		order.CreatedAt = createdAt
		return nil
	})
}

func GetOrderBySession(ctx context.Context, db *sql.DB, sessionID string) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE checkout_session_id = $1`

	err := scanOrder(db.QueryRowContext(ctx, query, sessionID), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := loadItems(ctx, db, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func loadItems(ctx context.Context, q querier, orderID uuid.UUID) ([]models.OrderItem, error) {
	itemsQuery := `
		SELECT product_id, name, quantity, unit_price, subtotal, transition, fulfilled
		FROM order_items
		WHERE order_id = $1
		ORDER BY position`

	rows, err := q.QueryContext(ctx, itemsQuery, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ProductID,
			&item.Name,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.Transition,
			&item.Fulfilled,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// ListOrdersCursor pages through orders newest first. An empty fulfillment
// matches every order.
func ListOrdersCursor(ctx context.Context, db *sql.DB, fulfillment models.Fulfillment, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1::text = '' OR fulfillment = $1)
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, string(fulfillment), cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewCursorPage(orders, limit), nil
}

// NewCursorPage trims a limit+1 result to limit and derives the next cursor.
func NewCursorPage(orders []models.Order, limit int) *CursorPage {
	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}
}

// ListUnpublishedOrders returns the oldest orders not yet handed to the relay,
// with their items.
func ListUnpublishedOrders(ctx context.Context, db *sql.DB, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		if err := scanOrder(rows, order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	for _, order := range orders {
		items, err := loadItems(ctx, db, order.ID)
		if err != nil {
			return nil, err
		}
		order.Items = items
	}

	return orders, nil
}

func MarkOrderPublished(ctx context.Context, db *sql.DB, sessionID string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE orders SET published_at = NOW()
		 WHERE checkout_session_id = $1 AND published_at IS NULL`,
		sessionID)
	if err != nil {
		return fmt.Errorf("mark order published: %w", err)
	}
	return nil
}
